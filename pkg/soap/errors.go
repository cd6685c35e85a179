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

package soap

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope = errors.New("malformed SOAP envelope")
	ErrMissingResponse   = errors.New("SOAP body has no action response element")
	ErrMissingFault      = errors.New("SOAP body has no fault element")
	ErrMissingUPnPError  = errors.New("SOAP fault carries no UPnP error detail")
)

// UPnPError is a structured device-reported failure.
type UPnPError struct {
	Code        int
	Description string
	FaultCode   string
	FaultString string
}

func (e *UPnPError) Error() string {
	return fmt.Sprintf("UPnP error %d: %s", e.Code, e.Description)
}
