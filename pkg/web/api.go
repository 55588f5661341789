// Copyright 2024 Netflexity, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// response is the JSON envelope of every /api endpoint.
type response struct {
	Status    status      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	ErrorType errorType   `json:"errorType,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type errorType string

const (
	errorBadData     errorType = "bad_data"
	errorInternal    errorType = "internal"
	errorUnavailable errorType = "unavailable"
	errorNotFound    errorType = "not_found"
	errorForbidden   errorType = "forbidden"
)

type status string

const (
	statusSuccess status = "success"
	statusError   status = "error"
)

func writeResponse(logger log.Logger, w http.ResponseWriter, code int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(resp)
	if err != nil {
		_ = level.Error(logger).Log("msg", "failed to marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"internal","error":"failed to marshal response"}`))
		return
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		_ = level.Error(logger).Log("msg", "failed to write response", "err", err)
	}
}

// writeResponseRaw writes a JSON body without the envelope. The actuator
// health endpoint keeps its own top-level shape.
func writeResponseRaw(logger log.Logger, w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	raw, err := json.Marshal(body)
	if err != nil {
		_ = level.Error(logger).Log("msg", "failed to marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(code)
	if _, err := w.Write(raw); err != nil {
		_ = level.Error(logger).Log("msg", "failed to write response", "err", err)
	}
}

func writeSuccess(logger log.Logger, w http.ResponseWriter, data interface{}) {
	writeResponse(logger, w, http.StatusOK, response{Status: statusSuccess, Data: data})
}

func writeError(logger log.Logger, w http.ResponseWriter, code int, errType errorType, msg string) {
	writeResponse(logger, w, code, response{Status: statusError, ErrorType: errType, Error: msg})
}
