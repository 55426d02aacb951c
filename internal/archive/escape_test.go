package archive

import "testing"

func TestEscapeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"", ""},
		{"a&b", "a&amp;b"},
		{"<tag>", "&lt;tag&gt;"},
		{`"quoted"`, "&quot;quoted&quot;"},
		{"it's", "it&apos;s"},
		{"a\r\nb", "a&#xD;\nb"},
		{"tab\there\nline", "tab\there\nline"},
		{"nul\x00byte", "nul�byte"},
		{"bad\xffutf8", "bad�utf8"},
		{"日本", "日本"},
	}

	for _, tt := range tests {
		if got := EscapeText(tt.in); got != tt.want {
			t.Errorf("EscapeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeAttr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"vehicle_id", "vehicle_id"},
		{`a"b`, "a&quot;b"},
		{"a\tb\nc\rd", "a&#x9;b&#xA;c&#xD;d"},
	}

	for _, tt := range tests {
		if got := EscapeAttr(tt.in); got != tt.want {
			t.Errorf("EscapeAttr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscape_ParsesBack(t *testing.T) {
	for _, v := range []string{"a&b<c>d\"e'f", "x\r\ny", "  padded  ", "\ttabbed"} {
		doc := `<database><table name="` + EscapeAttr(v) + `" prime_key="id"><row><column name="c" type="3">` +
			EscapeText(v) + `</column></row></table></database>`
		db, err := parseString(doc)
		if err != nil {
			t.Fatalf("Parse(%q): %v", v, err)
		}
		if got := db.Tables[0].Name; got != v {
			t.Errorf("attribute round trip = %q, want %q", got, v)
		}
		if got := db.Tables[0].Rows[0].Columns[0].Value().String; got != v {
			t.Errorf("text round trip = %q, want %q", got, v)
		}
	}
}
