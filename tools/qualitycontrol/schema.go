package qualitycontrol

var validateContentArgsSchema = []byte(`{
  "type": "object",
  "required": ["node"],
  "properties": {
    "node": {"type": "object"},
    "age_group": {"type": "string"},
    "educational_goals": {"type": "array", "items": {"type": "string"}}
  }
}`)

var batchValidateArgsSchema = []byte(`{
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {"type": "array", "items": {"type": "object"}, "minItems": 1},
    "age_group": {"type": "string"},
    "educational_goals": {"type": "array", "items": {"type": "string"}}
  }
}`)

var suggestCorrectionsArgsSchema = []byte(`{
  "type": "object",
  "required": ["node", "violations"],
  "properties": {
    "node": {"type": "object"},
    "violations": {"type": "array", "items": {"type": "object"}}
  }
}`)
