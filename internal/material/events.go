package material

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	EventMaterialCreated   = "study_material_created"
	EventMaterialUpdated   = "study_material_updated"
	EventMaterialDeleted   = "study_material_deleted"
	EventSummaryCreated    = "summary_created"
	EventFlashcardsCreated = "flashcards_created"
	EventQuizCreated       = "quiz_created"
)

var ErrUnknownEvent = errors.New("unknown event type")

// EventEnvelope is the wire form of a push notification: the event name
// plus the affected record or child payload.
type EventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type DeletedPayload struct {
	ID int64 `json:"id"`
}

const materialEventSchema = `{
	"type": "object",
	"required": ["id", "file_name", "processing_status", "updated_at"],
	"properties": {
		"id": {"type": "integer"},
		"file_name": {"type": "string", "minLength": 1},
		"upload_date": {"type": "string"},
		"processing_status": {"enum": ["pending", "processing", "completed", "failed"]},
		"updated_at": {"type": "string"}
	}
}`

const deletedEventSchema = `{
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "integer"}
	}
}`

const summaryEventSchema = `{
	"type": "object",
	"required": ["id", "study_material_id", "content"],
	"properties": {
		"id": {"type": "integer"},
		"study_material_id": {"type": "integer"},
		"content": {"type": "string"},
		"detail_level": {"type": "string"},
		"created_at": {"type": "string"}
	}
}`

const flashcardsEventSchema = `{
	"type": "object",
	"required": ["id", "study_material_id", "cards"],
	"properties": {
		"id": {"type": "integer"},
		"study_material_id": {"type": "integer"},
		"cards": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["question", "answer"],
				"properties": {
					"question": {"type": "string"},
					"answer": {"type": "string"}
				}
			}
		},
		"created_at": {"type": "string"}
	}
}`

const quizEventSchema = `{
	"type": "object",
	"required": ["id", "study_material_id", "questions"],
	"properties": {
		"id": {"type": "integer"},
		"study_material_id": {"type": "integer"},
		"questions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["question", "options", "answer"],
				"properties": {
					"question": {"type": "string"},
					"options": {"type": "array", "items": {"type": "string"}},
					"answer": {"type": "string"}
				}
			}
		},
		"created_at": {"type": "string"}
	}
}`

// EventValidator checks raw push payloads against per-event JSON Schemas
// before they are applied to the store. The push channel is shared with
// other clients; a malformed payload is skipped, never applied partially.
type EventValidator struct {
	schemas map[string]*jsonschema.Schema
}

func NewEventValidator() (*EventValidator, error) {
	sources := map[string]string{
		EventMaterialCreated:   materialEventSchema,
		EventMaterialUpdated:   materialEventSchema,
		EventMaterialDeleted:   deletedEventSchema,
		EventSummaryCreated:    summaryEventSchema,
		EventFlashcardsCreated: flashcardsEventSchema,
		EventQuizCreated:       quizEventSchema,
	}
	compiler := jsonschema.NewCompiler()
	for event, source := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", event, err)
		}
		if err := compiler.AddResource("studysync://events/"+event+".json", doc); err != nil {
			return nil, fmt.Errorf("add schema for %s: %w", event, err)
		}
	}
	schemas := make(map[string]*jsonschema.Schema, len(sources))
	for event := range sources {
		schema, err := compiler.Compile("studysync://events/" + event + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", event, err)
		}
		schemas[event] = schema
	}
	return &EventValidator{schemas: schemas}, nil
}

func (v *EventValidator) Validate(event string, data []byte) error {
	schema, ok := v.schemas[event]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid json payload: %w", err)
	}
	return schema.Validate(instance)
}
