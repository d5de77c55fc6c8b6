package prompthelper

var storyPromptSchema = []byte(`{
  "type": "object",
  "required": ["theme", "age_group", "language"],
  "properties": {
    "theme": {"type": "string", "minLength": 1},
    "age_group": {"type": "string", "minLength": 1},
    "language": {"type": "string", "minLength": 2},
    "educational_goals": {"type": "array", "items": {"type": "string"}},
    "vocabulary_level": {"type": "string"}
  }
}`)

var languageSchema = []byte(`{
  "type": "object",
  "required": ["language"],
  "properties": {
    "language": {"type": "string", "minLength": 2}
  }
}`)
