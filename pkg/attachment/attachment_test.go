package attachment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestInspect(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		declared string
		data     []byte
		wantErr  error
		wantKind Kind
		wantMime string
	}{
		{
			name:     "empty filename",
			filename: "",
			wantErr:  ErrEmptyFilename,
		},
		{
			name:     "unsupported extension",
			filename: "script.exe",
			wantErr:  ErrUnsupportedFileType,
		},
		{
			name:     "no extension",
			filename: "README",
			wantErr:  ErrUnsupportedFileType,
		},
		{
			name:     "pdf keeps declared type",
			filename: "report.PDF",
			declared: "application/pdf",
			data:     []byte("%PDF-1.4"),
			wantKind: KindPDF,
			wantMime: "application/pdf",
		},
		{
			name:     "declared media type",
			filename: "clip.mp4",
			declared: "video/mp4",
			data:     []byte{1, 2, 3},
			wantKind: KindMedia,
			wantMime: "video/mp4",
		},
		{
			name:     "sniffed when declared is generic",
			filename: "photo.png",
			declared: "application/octet-stream",
			data:     pngHeader,
			wantKind: KindMedia,
			wantMime: "image/png",
		},
		{
			name:     "jpeg when nothing is known",
			filename: "photo.heic",
			data:     []byte{0, 1, 2, 3},
			wantKind: KindMedia,
			wantMime: "image/jpeg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Inspect(tt.filename, tt.declared, tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantMime, got.MimeType)
			assert.Equal(t, int64(len(tt.data)), got.Size)
			assert.Equal(t, tt.filename, got.Name)
		})
	}
}

func TestExtractPDFTextRejectsGarbage(t *testing.T) {
	_, err := ExtractPDFText([]byte("not a pdf"))
	assert.Error(t, err)
}
