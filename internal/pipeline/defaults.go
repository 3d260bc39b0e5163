package pipeline

// Defaults returns the built-in batch parameters, the lowest configuration
// layer. Numeric values use int64/float64 so they compare equal to values
// decoded from TOML.
func Defaults() map[string]any {
	return map[string]any{
		"source": map[string]any{
			"identifier":        "",
			"sheet_url":         "",
			"identifier_column": "identifier",
		},
		"metadata": map[string]any{
			"required_fields": []any{"identifier", "title"},
		},
		"convert": map[string]any{
			"jpeg_quality": int64(2),
		},
		"embed": map[string]any{
			"tag_map": map[string]any{
				"identifier":  "XMP-dc:Identifier",
				"title":       "XMP-dc:Title",
				"description": "XMP-dc:Description",
				"creator":     "XMP-dc:Creator",
				"date":        "XMP-photoshop:DateCreated",
				"rights":      "XMP-dc:Rights",
			},
		},
		"resize": map[string]any{
			"max_dimension": int64(2048),
			"quality":       int64(3),
		},
		"watermark": map[string]any{
			"text":      "",
			"opacity":   0.35,
			"font_size": int64(36),
			"margin":    int64(24),
		},
	}
}
