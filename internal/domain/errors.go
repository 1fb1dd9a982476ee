// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrExperimentNotFound = errors.New("experiment not found")
