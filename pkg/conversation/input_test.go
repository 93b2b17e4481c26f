package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		in   Attachment
		want string
	}{
		{"own name", Attachment{FileName: "contrato.docx", MessageID: "M1", MimeType: "application/pdf"}, "contrato.docx"},
		{"synthesized", Attachment{MessageID: "M1", MimeType: "image/png"}, "M1.png"},
		{"mime parameters", Attachment{MessageID: "M1", MimeType: "application/pdf; charset=binary"}, "M1.pdf"},
		{"no mime", Attachment{MessageID: "M1"}, "M1.bin"},
		{"no id", Attachment{MimeType: "image/jpeg"}, "document.jpeg"},
		{"blank name", Attachment{FileName: "  ", MessageID: "M2", MimeType: "image/jpeg"}, "M2.jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.DisplayName())
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "olá", NormalizeText("  OLÁ \n"))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestPrintable(t *testing.T) {
	assert.True(t, MediaDocument.Printable())
	assert.True(t, MediaImage.Printable())
	assert.False(t, MediaVideo.Printable())
	assert.False(t, MediaAudio.Printable())
	assert.False(t, MediaOther.Printable())
}

func TestInputKindString(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "attachment", KindAttachment.String())
	assert.Equal(t, "unsupported", KindUnsupported.String())
}
