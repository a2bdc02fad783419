package llm

import "testing"

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name     string
		resp     string
		wantCase int64
		wantOK   bool
		wantErr  bool
	}{
		{
			name:     "plain json",
			resp:     `{"case_id": 42, "match": true}`,
			wantCase: 42,
			wantOK:   true,
		},
		{
			name:     "fenced json",
			resp:     "```json\n{\"case_id\": 42, \"match\": true}\n```",
			wantCase: 42,
			wantOK:   true,
		},
		{
			name:     "bare fence",
			resp:     "```\n{\"case_id\": 7, \"match\": true}\n```",
			wantCase: 7,
			wantOK:   true,
		},
		{
			name: "no match",
			resp: `{"case_id": 0, "match": false}`,
		},
		{
			name: "match flag without id is no match",
			resp: `{"case_id": 0, "match": true}`,
		},
		{
			name: "id without match flag is no match",
			resp: `{"case_id": 42, "match": false}`,
		},
		{
			name:    "prose instead of json",
			resp:    "I think case 42 fits best.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caseID, ok, err := parseResolution(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseResolution() error = %v, wantErr %v", err, tt.wantErr)
			}
			if caseID != tt.wantCase || ok != tt.wantOK {
				t.Errorf("parseResolution() = (%d, %v), want (%d, %v)", caseID, ok, tt.wantCase, tt.wantOK)
			}
		})
	}
}
