package constraintenforcer

var enforceConstraintsArgsSchema = []byte(`{
  "type": "object",
  "required": ["node", "theme"],
  "properties": {
    "node": {"type": "object"},
    "theme": {"type": "string", "minLength": 1},
    "required_elements": {"type": "array", "items": {"type": "string"}},
    "banned_terms": {"type": "array", "items": {"type": "string"}}
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
