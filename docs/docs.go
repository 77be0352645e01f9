// Package docs registers the OpenAPI description of the attestation API with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "in": "header", "name": "X-API-Key"}
    },
    "paths": {
        "/healthz": {"get": {"summary": "Liveness probe", "responses": {"200": {"description": "ok"}}}},
        "/api/config": {"get": {"summary": "Chain id, registry and oracle addresses, reward and liveness", "responses": {"200": {"description": "deployment info"}}}},
        "/api/abi": {"get": {"summary": "Registry and oracle ABIs", "responses": {"200": {"description": "ABI JSON"}}}},
        "/api/claims": {
            "get": {"summary": "List claims by claimer", "security": [{"ApiKeyAuth": []}],
                "parameters": [{"name": "claimer", "in": "query", "type": "string"}],
                "responses": {"200": {"description": "claims"}, "400": {"description": "INVALID_INPUT"}}},
            "post": {"summary": "Submit a tweet claim", "security": [{"ApiKeyAuth": []}],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitClaimBody"}}],
                "responses": {"201": {"description": "claim submitted"}, "400": {"description": "INVALID_INPUT"}}}
        },
        "/api/claims/{id}": {"get": {"summary": "Claim details; unknown ids return exists=false", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "claim"}}}},
        "/api/claims/{id}/verified": {"get": {"summary": "Whether the claim resolved true", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "verified flag"}}}},
        "/api/claims/{id}/settleable": {"get": {"summary": "Whether settlement would succeed now", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "can_be_settled flag"}}}},
        "/api/claims/{id}/settle": {"post": {"summary": "Settle the claim and pay the reward if true", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "settled"}, "404": {"description": "CLAIM_NOT_FOUND"},
                "409": {"description": "ALREADY_RESOLVED or ASSERTION_NOT_EXPIRED"}, "422": {"description": "INSUFFICIENT_BALANCE"}}}},
        "/api/assertions/{id}": {"get": {"summary": "Oracle assertion record", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "assertion"}, "404": {"description": "ASSERTION_NOT_FOUND"}}}},
        "/api/assertions/{id}/result": {"get": {"summary": "Settled oracle result", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "result"}, "409": {"description": "ASSERTION_NOT_SETTLED"}}}},
        "/api/assertions/{id}/dispute": {"post": {"summary": "Dispute an assertion inside its challenge window", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "disputed"}}}},
        "/api/assertions/{id}/resolve": {"post": {"summary": "Record the outcome of a dispute (admin)", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "resolved"}, "403": {"description": "UNAUTHORIZED"}}}},
        "/api/deposit": {"post": {"summary": "Fund the registry reward pool", "security": [{"ApiKeyAuth": []}],
            "responses": {"200": {"description": "deposited"}}}},
        "/api/deposit/qr": {"get": {"summary": "EIP-681 payment QR code for funding the registry", "produces": ["image/png"],
            "responses": {"200": {"description": "PNG"}}}},
        "/api/balances/{address}": {"get": {"summary": "Account balance", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "address", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "balance"}}}},
        "/api/tx/{hash}": {"get": {"summary": "Transaction receipt", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "hash", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "receipt"}, "404": {"description": "NOT_FOUND"}}}},
        "/api/events": {"get": {"summary": "Recent registry events, JSON or text/event-stream", "security": [{"ApiKeyAuth": []}],
            "parameters": [{"name": "type", "in": "query", "type": "string"}, {"name": "actor", "in": "query", "type": "string"},
                {"name": "entity_id", "in": "query", "type": "string"}, {"name": "limit", "in": "query", "type": "integer"}],
            "responses": {"200": {"description": "events"}}}},
        "/api/keys": {"post": {"summary": "Issue an API key bound to a wallet (admin)", "security": [{"ApiKeyAuth": []}],
            "responses": {"201": {"description": "api key"}, "403": {"description": "UNAUTHORIZED"}}}},
        "/api/keys/login": {"post": {"summary": "Validate a key and bind a wallet if none is bound",
            "responses": {"200": {"description": "api key"}, "403": {"description": "wallet already bound"}}}},
        "/mcp": {"post": {"summary": "MCP streamable HTTP endpoint exposing the claim tools", "security": [{"ApiKeyAuth": []}],
            "responses": {"200": {"description": "JSON-RPC response"}}}}
    },
    "definitions": {
        "SubmitClaimBody": {
            "type": "object",
            "required": ["twitter_handle", "tweet_text"],
            "properties": {
                "twitter_handle": {"type": "string"},
                "tweet_text": {"type": "string"},
                "from": {"type": "string", "description": "sender address when API keys are disabled"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Tweet Attestation API",
	Description:      "Submit tweet claims to the registry and settle them through the optimistic oracle.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
