package parser

import "testing"

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want Kind
	}{
		{"reports/sales.pbix", KindPowerBI},
		{"SALES.PBIX", KindPowerBI},
		{"workbook.twb", KindTableauWorkbook},
		{"packaged.twbx", KindTableauPackaged},
		{"notes.txt", KindUnknown},
		{"noext", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := Detect(tt.path); got != tt.want {
				t.Errorf("Detect(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
