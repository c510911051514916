package middleware

import (
	"bytes"
	"io"
	"strings"

	contextutils "zporta/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
)

// eventBodySchema enforces the activity-event wire contract. The metadata
// rule matters most: it must be a JSON object or null, never a scalar or
// array, so downstream jsonb queries stay well-typed.
const eventBodySchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["kind", "item"],
	"properties": {
		"kind": {"type": "string", "minLength": 1},
		"item": {
			"type": "object",
			"required": ["kind", "id"],
			"properties": {
				"kind": {"type": "string", "minLength": 1},
				"id": {"type": "integer", "minimum": 1}
			}
		},
		"occurred_at": {"type": "string"},
		"metadata": {"type": ["object", "null"]}
	}
}`

var eventSchema = gojsonschema.NewStringLoader(eventBodySchema)

// EventValidationMiddleware validates POST /api/events bodies against the
// event schema before the handler binds them
func EventValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			StandardizeAppError(c, contextutils.NewAppError(
				contextutils.ErrorCodeInvalidEvent,
				contextutils.SeverityWarn,
				"Failed to read request body",
				err.Error()))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		result, err := gojsonschema.Validate(eventSchema, gojsonschema.NewBytesLoader(body))
		if err != nil {
			StandardizeAppError(c, contextutils.NewAppError(
				contextutils.ErrorCodeInvalidEvent,
				contextutils.SeverityWarn,
				"Request body is not valid JSON",
				err.Error()))
			c.Abort()
			return
		}

		if !result.Valid() {
			code := contextutils.ErrorCodeInvalidEvent
			var details []string
			for _, issue := range result.Errors() {
				if issue.Field() == "metadata" {
					code = contextutils.ErrorCodeInvalidMetadata
				}
				details = append(details, issue.String())
			}
			StandardizeAppError(c, contextutils.NewAppError(
				code,
				contextutils.SeverityWarn,
				"Invalid activity event",
				strings.Join(details, "; ")))
			c.Abort()
			return
		}

		c.Next()
	}
}
