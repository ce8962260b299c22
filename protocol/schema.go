package protocol

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/ctcgateway/errors"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	envelopeSchema = mustLoadSchema("schema/envelope.json")
	payloadSchemas = map[MessageType]*gojsonschema.Schema{
		TypeError:          mustLoadSchema("schema/rtn_err.json"),
		TypeReadingStarted: mustLoadSchema("schema/not_dyn_reading_started.json"),
		TypeReading:        mustLoadSchema("schema/not_dyn_reading.json"),
		TypeTemperature:    mustLoadSchema("schema/not_dyn_temp.json"),
	}
)

// payloadFields lists canonical Data keys per type for case folding.
var payloadFields = map[MessageType][]string{
	TypeError:          {"Attempt", "Error"},
	TypeReadingStarted: {"Serial", "Success", "Reason"},
	TypeReading:        {"ID", "Serial", "Time", "X", "Y", "Z"},
	TypeTemperature:    {"Serial", "Temp", "Time"},
	TypeLoginResponse:  {"Success", "Message"},
}

func mustLoadSchema(name string) *gojsonschema.Schema {
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("protocol: read %s: %v", name, err))
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		panic(fmt.Sprintf("protocol: compile %s: %v", name, err))
	}
	return schema
}

func schemaFor(t MessageType) *gojsonschema.Schema {
	return payloadSchemas[t]
}

// validate checks a decoded document against schema and folds every
// violation into one error wrapping ErrSchemaViolation.
func validate(schema *gojsonschema.Schema, doc any) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return fmt.Errorf("%w: %s", errors.ErrSchemaViolation, strings.Join(details, "; "))
}
