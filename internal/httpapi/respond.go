package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respond writes v as JSON, or as a google.protobuf.Struct when the client
// accepts protobuf. v must encode to a JSON object.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		s, err := toStruct(v)
		if err != nil {
			http.Error(w, "proto encode error", http.StatusInternalServerError)
			return
		}
		writeProto(w, status, s)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	respond(w, r, status, errorBody{Error: code, Message: msg})
}

// decodeBody fills dst from a JSON or protobuf Struct body. Unknown fields
// are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	var body io.Reader
	if isProtobuf(r) {
		data, err := readProto(r)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// warningList splits a warning error into one message per failure.
// errors.Join separates its members with newlines.
func warningList(err error) []string {
	if err == nil {
		return nil
	}
	return strings.Split(err.Error(), "\n")
}
