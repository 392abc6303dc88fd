// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/weftworks/weft/pkg/errors"
)

// printCLIError renders an error for the terminal, keeping the typed code
// and context visible when the error carries them.
func printCLIError(err error, asJSON bool) {
	we := errors.AsWeftError(err)
	if we == nil {
		if asJSON {
			payload, _ := json.Marshal(map[string]any{"error": err.Error()})
			fmt.Fprintln(os.Stderr, string(payload))
			return
		}
		fmt.Fprintln(os.Stderr, err)
		return
	}

	if asJSON {
		payload, merr := json.Marshal(map[string]any{"error": we})
		if merr != nil {
			fmt.Fprintln(os.Stderr, we.Error())
			return
		}
		fmt.Fprintln(os.Stderr, string(payload))
		return
	}

	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", we.Code, we.Message)
	if we.Err != nil {
		fmt.Fprintf(os.Stderr, "  Cause: %v\n", we.Err)
	}
	for key, value := range we.Context {
		fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
	}
	if hint := hintFor(we.Code); hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", hint)
	}
}

// hintFor maps well-known error codes to an actionable next step.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeUnresolvedReference:
		return "check that every use/extends target is defined in the manifest"
	case errors.CodeCyclicReference:
		return "break the use/extends cycle shown in the reference chain"
	case errors.CodeProviderUnavailable:
		return "verify the provider base URL is reachable (e.g. ollama serve)"
	case errors.CodeSelectionOutOfRange:
		return "the selection strategy must return one of the process participants"
	case errors.CodeMissingProperty:
		return "compare the definition against its component reference"
	default:
		return ""
	}
}
