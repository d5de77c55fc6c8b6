package toolsvc

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// jsonDecode unmarshals raw JSON Schema bytes into the generic document
// shape jsonschema.Compiler.AddResource expects.
func jsonDecode(raw []byte) interface{} {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		// A malformed schema is a startup-time configuration bug; the
		// caller (RegisterTool) surfaces the real error from Compile.
		return map[string]interface{}{}
	}
	return doc
}

// validateArguments runs args (the tool_call's raw JSON arguments) through
// schema, the server-side enforcement spec.md §6 requires ("services MUST
// validate server-side and reject with InvalidArgument on violation").
func validateArguments(schema *jsonschema.Schema, args []byte) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("arguments failed schema validation: %w", err)
	}
	return nil
}
