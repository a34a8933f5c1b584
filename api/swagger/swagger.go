package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SLMS API",
        "description": "Student lifecycle back-end: notifications, documents, routines and auth",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Sessions and password reset"},
        {"name": "Notifications", "description": "Inbox, preferences and delivery log"},
        {"name": "Documents", "description": "Structured document store"},
        {"name": "Routines", "description": "Weekly timetable with conflict detection"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/password/forgot": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Request a password reset code",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OTPRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "429": {"description": "Too many requests"}
                }
            }
        },
        "/auth/password/verify": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Verify a reset code",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OTPVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Valid"},
                    "401": {"description": "Invalid, expired or exhausted"}
                }
            }
        },
        "/auth/password/reset": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Reset password with a code",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OTPConfirmRequest"}}
                ],
                "responses": {
                    "204": {"description": "Password changed"},
                    "401": {"description": "Invalid, expired or exhausted"}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List my notifications",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications/unread-count": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Unread notification count",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/notifications/stream": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Live server-sent event stream",
                "produces": ["text/event-stream"],
                "responses": {
                    "200": {"description": "Event stream"}
                }
            }
        },
        "/notifications/read-all": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Mark every notification read",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Mark one notification read",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/notifications/preferences": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Notification preferences",
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "put": {
                "tags": ["Notifications"],
                "summary": "Update one preference",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/documents": {
            "get": {
                "tags": ["Documents"],
                "summary": "Search documents",
                "parameters": [
                    {"name": "q", "in": "query", "type": "string"},
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "dept", "in": "query", "type": "string"},
                    {"name": "session", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Documents"],
                "summary": "Upload a document",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "required": true, "type": "file"},
                    {"name": "category", "in": "formData", "required": true, "type": "string"},
                    {"name": "owner_id", "in": "formData", "required": true, "type": "string"},
                    {"name": "owner_name", "in": "formData", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Duplicate or occupied slot"}
                }
            }
        },
        "/documents/batch": {
            "post": {
                "tags": ["Documents"],
                "summary": "Upload several documents",
                "consumes": ["multipart/form-data"],
                "responses": {
                    "207": {"description": "Per-file results"}
                }
            }
        },
        "/documents/duplicate-check": {
            "post": {
                "tags": ["Documents"],
                "summary": "Probe for a duplicate",
                "consumes": ["multipart/form-data"],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/documents/{id}/sign": {
            "post": {
                "tags": ["Documents"],
                "summary": "Issue a signed download link",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/files/download": {
            "get": {
                "tags": ["Documents"],
                "summary": "Download by signed token",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "401": {"description": "Invalid or expired token"}
                }
            }
        },
        "/documents/{id}/integrity": {
            "get": {
                "tags": ["Documents"],
                "summary": "Verify one document",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Integrity report"}
                }
            }
        },
        "/routines": {
            "get": {
                "tags": ["Routines"],
                "summary": "List routine slots",
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "post": {
                "tags": ["Routines"],
                "summary": "Create a routine slot",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RoutineRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Scheduling conflict"}
                }
            }
        },
        "/routines/check-conflicts": {
            "post": {
                "tags": ["Routines"],
                "summary": "Dry-run the conflict check",
                "responses": {
                    "200": {"description": "Conflict report"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "OTPRequest": {
            "type": "object",
            "required": ["email"],
            "properties": {
                "email": {"type": "string"}
            }
        },
        "OTPVerifyRequest": {
            "type": "object",
            "required": ["email", "otp"],
            "properties": {
                "email": {"type": "string"},
                "otp": {"type": "string"}
            }
        },
        "OTPConfirmRequest": {
            "type": "object",
            "required": ["email", "otp", "new_password", "new_password_confirm"],
            "properties": {
                "email": {"type": "string"},
                "otp": {"type": "string"},
                "new_password": {"type": "string"},
                "new_password_confirm": {"type": "string"}
            }
        },
        "RoutineRequest": {
            "type": "object",
            "required": ["department", "semester", "shift", "session", "day_of_week", "subject_code", "subject_name", "class_type", "room"],
            "properties": {
                "department": {"type": "string"},
                "semester": {"type": "integer"},
                "shift": {"type": "string"},
                "session": {"type": "string"},
                "day_of_week": {"type": "string"},
                "start_minute": {"type": "integer"},
                "end_minute": {"type": "integer"},
                "subject_code": {"type": "string"},
                "subject_name": {"type": "string"},
                "class_type": {"type": "string"},
                "lab_name": {"type": "string"},
                "teacher_id": {"type": "string"},
                "room": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
