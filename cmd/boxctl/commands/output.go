package commands

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// failureDocument is printed on stdout when a command fails.
type failureDocument struct {
	Failed   bool   `json:"failed"`
	Msg      string `json:"msg"`
	Class    string `json:"class,omitempty"`
	Code     string `json:"code,omitempty"`
	Instance string `json:"instance,omitempty"`
	Cmd      string `json:"cmd,omitempty"`
	RC       *int   `json:"rc,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

func newFailureDocument(err error) failureDocument {
	doc := failureDocument{Failed: true, Msg: err.Error()}

	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		return doc
	}
	doc.Msg = ee.Message
	if ee.Err != nil {
		doc.Msg += ": " + ee.Err.Error()
	}
	doc.Class = string(ee.Class)
	doc.Code = ee.Code
	doc.Instance = ee.Instance
	if ee.Failure != nil {
		rc := ee.Failure.ExitCode
		doc.Cmd = ee.Failure.Command
		doc.RC = &rc
		doc.Stderr = ee.Failure.Stderr
	}
	return doc
}

func writeFailure(w io.Writer, err error) error {
	return writeJSON(w, newFailureDocument(err))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
