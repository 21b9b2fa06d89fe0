package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "CivicFix Backend",
    "description": "Citizen issue reporting with duplicate merging, charter-grounded SLAs and department routing",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/api/tickets/report": {"post": {"tags": ["tickets"], "summary": "Report an issue", "consumes": ["multipart/form-data"], "produces": ["application/json"], "responses": {"200": {"description": "merged into an existing ticket"}, "201": {"description": "ticket created"}, "400": {"description": "validation error"}}}},
    "/api/tickets/analyze": {"post": {"tags": ["tickets"], "summary": "Analyze an image", "consumes": ["multipart/form-data"], "produces": ["application/json"], "responses": {"200": {"description": "analysis"}}}},
    "/api/tickets/check-duplicate": {"post": {"tags": ["tickets"], "summary": "Duplicate pre-check", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "duplicate decision"}}}},
    "/api/tickets": {"get": {"tags": ["tickets"], "summary": "List tickets", "produces": ["application/json"], "responses": {"200": {"description": "tickets"}}}},
    "/api/tickets/hot": {"get": {"tags": ["tickets"], "summary": "Hot issues", "produces": ["application/json"], "responses": {"200": {"description": "tickets"}}}},
    "/api/tickets/{id}": {"get": {"tags": ["tickets"], "summary": "Ticket details", "produces": ["application/json"], "responses": {"200": {"description": "ticket"}, "404": {"description": "not found"}}}},
    "/api/tickets/{id}/upvote": {"put": {"tags": ["tickets"], "summary": "Upvote a ticket", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "upvote result"}, "404": {"description": "not found"}}}},
    "/api/tickets/{id}/status": {"put": {"tags": ["tickets"], "summary": "Update ticket status", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "ticket"}, "409": {"description": "transition not allowed"}}}},
    "/api/routing/analyze": {"post": {"tags": ["routing"], "summary": "Department routing hint", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "routing decision"}}}},
    "/api/sla/resolve": {"post": {"tags": ["sla"], "summary": "Resolve an SLA", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "sla result"}}}},
    "/api/live": {"get": {"tags": ["routing"], "summary": "Live preview socket", "responses": {"101": {"description": "switching protocols"}}}}
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
