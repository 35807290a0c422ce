/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package credentials

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// FailureKind is the classification of a failed trust exchange call.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureTrustDenied       FailureKind = "TrustDenied"
	FailureThrottled         FailureKind = "Throttled"
	FailureNetworkTransient  FailureKind = "NetworkTransient"
	FailureMalformedResponse FailureKind = "MalformedResponse"
	FailureCanceled          FailureKind = "Canceled"
	FailureUnknown           FailureKind = "Unknown"
)

// ErrMalformedResponse is returned when STS answers without usable credentials.
var ErrMalformedResponse = errors.New("trust exchange response is missing credentials or expiration")

var deniedCodes = map[string]bool{
	"AccessDenied":            true,
	"AccessDeniedException":   true,
	"RegionDisabledException": true,
	"InvalidClientTokenId":    true,
}

var throttleCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"ThrottledException":        true,
	"RequestThrottledException": true,
	"TooManyRequestsException":  true,
	"RequestLimitExceeded":      true,
	"SlowDown":                  true,
	"IDPCommunicationError":     true,
}

var serverCodes = map[string]bool{
	"ServiceUnavailable": true,
	"InternalFailure":    true,
	"InternalError":      true,
}

// ClassifySTSError maps an error returned by an STS call onto a FailureKind.
func ClassifySTSError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, ErrMalformedResponse) {
		return FailureMalformedResponse
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureCanceled
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case deniedCodes[code]:
			return FailureTrustDenied
		case throttleCodes[code]:
			return FailureThrottled
		case serverCodes[code]:
			return FailureNetworkTransient
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch status := statusErr.HTTPStatusCode(); {
		case status == 429:
			return FailureThrottled
		case status >= 500:
			return FailureNetworkTransient
		}
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return FailureNetworkTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureNetworkTransient
	}

	return FailureUnknown
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	switch ClassifySTSError(err) {
	case FailureThrottled, FailureNetworkTransient:
		return true
	}
	return false
}
