package ai

const analysisSchema = `{
  "type": "object",
  "required": ["category", "issueType", "severity", "issueDescription"],
  "properties": {
    "category": {"type": "string", "minLength": 1},
    "issueType": {"type": "string", "minLength": 1},
    "severity": {"type": "string"},
    "issueDescription": {"type": "string"}
  }
}`

const estimateSchema = `{
  "type": "object",
  "required": ["duration", "reasoning"],
  "properties": {
    "duration": {"type": "number", "minimum": 0},
    "reasoning": {"type": "string"}
  }
}`

const slaItemsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["category", "issueType", "sectionReference", "slaDuration", "slaUnit", "text"],
    "properties": {
      "category": {"type": "string"},
      "issueType": {"type": "string"},
      "sectionReference": {"type": "string"},
      "slaDuration": {"type": "number", "minimum": 0},
      "slaUnit": {"type": "string"},
      "text": {"type": "string"}
    }
  }
}`

const departmentItemsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["departmentName", "handledIssues", "summary"],
    "properties": {
      "departmentName": {"type": "string", "minLength": 1},
      "handledIssues": {"type": "array", "items": {"type": "string"}},
      "summary": {"type": "string"},
      "examplePhrases": {"type": "array", "items": {"type": "string"}}
    }
  }
}`
