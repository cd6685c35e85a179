/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package action

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownPattern = errors.New("unknown call pattern")
	ErrNoControlURL   = errors.New("service has no control URL")
	ErrHTTPStatus     = errors.New("unexpected HTTP status from control endpoint")
)

// TimeoutError means a retry loop ran out of time. It keeps the action
// name and the last attempt's failure so the operator can see what the
// device was doing when the clock ran out.
type TimeoutError struct {
	Action  string
	Elapsed time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("action %s timed out after %s (last error: %s)", e.Action, e.Elapsed, e.LastErr)
	}

	return fmt.Sprintf("action %s timed out after %s", e.Action, e.Elapsed)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }
