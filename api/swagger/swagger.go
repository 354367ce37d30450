package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Expense Approval API",
        "description": "Approval workflow engine for expense management",
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
        {"name": "Authentication", "description": "Login and session info"},
        {"name": "Rules", "description": "Approval rule catalog"},
        {"name": "Approvals", "description": "Workflow engine"}
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
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approval-rules": {
            "get": {
                "tags": ["Rules"],
                "summary": "List approval rules",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"},
                    {"name": "isActive", "in": "query", "type": "boolean"},
                    {"name": "ruleType", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Rules"],
                "summary": "Create approval rule",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRuleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Invalid rule configuration"}
                }
            }
        },
        "/approval-rules/{id}": {
            "get": {
                "tags": ["Rules"],
                "summary": "Get approval rule",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Rules"],
                "summary": "Update approval rule",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateRuleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals/workflows": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Start approval workflow for a submitted expense",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateWorkflowRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Workflow already exists"},
                    "422": {"description": "No matching rule or no approvers"}
                }
            }
        },
        "/approvals/pending": {
            "get": {
                "tags": ["Approvals"],
                "summary": "List pending approval actions for the caller",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals/actions/{id}/approve": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Approve a pending action",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Action already processed or workflow finalized"}
                }
            }
        },
        "/approvals/actions/{id}/reject": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Reject a pending action",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Action already processed or workflow finalized"}
                }
            }
        },
        "/approvals/expenses/{expenseId}/workflow": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Get the workflow attached to an expense",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "expenseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals/expenses/{expenseId}/history": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Get the approval trail for an expense",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "expenseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals/expenses/{expenseId}/history/export": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Render the approval trail into a downloadable file",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "expenseId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals/export/{token}": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Download a rendered approval trail file",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired link"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "RuleStepInput": {
            "type": "object",
            "properties": {
                "approver_id": {"type": "string"},
                "step_order": {"type": "integer"},
                "is_auto_approve": {"type": "boolean"}
            },
            "required": ["approver_id", "step_order"]
        },
        "CreateRuleRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"},
                "category_id": {"type": "string"},
                "min_amount": {"type": "number"},
                "max_amount": {"type": "number"},
                "rule_type": {"type": "string", "enum": ["sequential", "percentage", "specific_approver", "hybrid"]},
                "is_manager_approver": {"type": "boolean"},
                "percentage_required": {"type": "number"},
                "priority": {"type": "integer"},
                "approvers": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/RuleStepInput"}
                }
            },
            "required": ["name", "rule_type"]
        },
        "UpdateRuleRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"},
                "category_id": {"type": "string"},
                "min_amount": {"type": "number"},
                "max_amount": {"type": "number"},
                "rule_type": {"type": "string"},
                "is_manager_approver": {"type": "boolean"},
                "percentage_required": {"type": "number"},
                "priority": {"type": "integer"},
                "is_active": {"type": "boolean"},
                "approvers": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/RuleStepInput"}
                }
            }
        },
        "CreateWorkflowRequest": {
            "type": "object",
            "properties": {
                "expense_id": {"type": "string"},
                "user_id": {"type": "string"}
            },
            "required": ["expense_id"]
        },
        "DecisionRequest": {
            "type": "object",
            "properties": {
                "comments": {"type": "string"}
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
