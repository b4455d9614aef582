package validation

import (
	"testing"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{
			name:    "valid argument",
			arg:     "--stdin",
			wantErr: false,
		},
		{
			name:    "valid relative path",
			arg:     "--load-path=./node_modules",
			wantErr: false,
		},
		{
			name:    "command injection semicolon",
			arg:     "--stdin; rm -rf /",
			wantErr: true,
		},
		{
			name:    "command injection pipe",
			arg:     "--stdin | cat /etc/passwd",
			wantErr: true,
		},
		{
			name:    "command injection backtick",
			arg:     "--style`whoami`",
			wantErr: true,
		},
		{
			name:    "path traversal",
			arg:     "../../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "dangerous shell characters",
			arg:     "file$(whoami).css",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgument() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	allowedCommands := map[string]bool{
		"sass":    true,
		"postcss": true,
	}

	tests := []struct {
		name    string
		command string
		allowed map[string]bool
		wantErr bool
	}{
		{
			name:    "allowed command sass",
			command: "sass",
			allowed: allowedCommands,
			wantErr: false,
		},
		{
			name:    "disallowed command",
			command: "rm",
			allowed: allowedCommands,
			wantErr: true,
		},
		{
			name:    "nil allowlist accepts any plain command",
			command: "lessc",
			wantErr: false,
		},
		{
			name:    "empty command",
			command: "",
			wantErr: true,
		},
		{
			name:    "command with inline arguments",
			command: "sass --stdin",
			wantErr: true,
		},
		{
			name:    "command with injection",
			command: "sass;rm",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.command, tt.allowed)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateOutputDir(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		out     string
		wantErr bool
	}{
		{"subdirectory", "/srv/app", "/srv/app/dist", false},
		{"sibling", "/srv/app", "/srv/app-dist", false},
		{"project root", "/srv/app", "/srv/app/", true},
		{"ancestor", "/srv/app", "/srv", true},
		{"filesystem root", "/srv/app", "/", true},
		{"relative", "/srv/app", "dist", true},
		{"empty", "/srv/app", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputDir(tt.root, tt.out)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutputDir() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
