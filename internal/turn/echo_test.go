package turn

import "testing"

func TestIsEcho(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		transcript string
		lastReply  string
		want       bool
	}{
		{
			name:       "exact repeat",
			transcript: "The weather is lovely today.",
			lastReply:  "The weather is lovely today.",
			want:       true,
		},
		{
			name:       "near repeat with recognition noise",
			transcript: "the weather is lovely to day",
			lastReply:  "The weather is lovely today.",
			want:       true,
		},
		{
			name:       "trailing fragment of the reply",
			transcript: "see you again tomorrow",
			lastReply:  "That was fun, I hope to see you again tomorrow!",
			want:       true,
		},
		{
			name:       "genuine user speech",
			transcript: "what time does the train leave",
			lastReply:  "The weather is lovely today.",
			want:       false,
		},
		{
			name:       "no previous reply",
			transcript: "hello there",
			lastReply:  "",
			want:       false,
		},
		{
			name:       "empty transcript",
			transcript: "",
			lastReply:  "The weather is lovely today.",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := isEcho(tt.transcript, tt.lastReply, defaultEchoSimilarity); got != tt.want {
				t.Errorf("isEcho(%q, %q): got %v, want %v", tt.transcript, tt.lastReply, got, tt.want)
			}
		})
	}
}
