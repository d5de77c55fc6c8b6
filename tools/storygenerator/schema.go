package storygenerator

var structureArgsSchema = []byte(`{
  "type": "object",
  "required": ["node_count", "theme"],
  "properties": {
    "node_count": {"type": "integer", "minimum": 4},
    "theme": {"type": "string", "minLength": 1},
    "age_group": {"type": "string"},
    "language": {"type": "string"}
  }
}`)

var generateNodesArgsSchema = []byte(`{
  "type": "object",
  "required": ["node_ids", "theme"],
  "properties": {
    "node_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "theme": {"type": "string", "minLength": 1},
    "age_group": {"type": "string"},
    "language": {"type": "string"},
    "out_degree": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    }
  }
}`)

var validatePathsArgsSchema = []byte(`{
  "type": "object",
  "required": ["dag", "expected_node_count"],
  "properties": {
    "dag": {"type": "object"},
    "expected_node_count": {"type": "integer", "minimum": 1}
  }
}`)
