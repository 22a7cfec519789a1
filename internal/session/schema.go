package session

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const clientSchemaURL = "https://voxeledit.dev/schemas/client.schema.json"

var clientSchema = mustCompileSchema("schemas/client.schema.json", clientSchemaURL)

func mustCompileSchema(path, url string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("read %s: %v", path, err))
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("load %s: %v", path, err))
	}
	return c.MustCompile(url)
}

// decodeClientMessage checks payload against the client schema before
// decoding it. Syntax errors and schema violations are reported apart so
// the client can tell them from each other.
func decodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return msg, errMalformed
	}
	if err := clientSchema.Validate(raw); err != nil {
		return msg, fmt.Errorf("invalid message: %w", err)
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, errMalformed
	}
	return msg, nil
}
