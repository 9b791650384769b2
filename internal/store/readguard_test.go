package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		query string
		ok    bool
	}{
		{"SELECT * FROM testextron", true},
		{"  select room, count(*) from testextron group by room", true},
		{"WITH c AS (SELECT COUNT(*) AS n FROM testextron) SELECT n FROM c", true},
		{"SELECT * FROM testextron WHERE action = 'Reset'", true},
		{"", false},
		{"DELETE FROM testextron", false},
		{"SELECT 1; DROP TABLE testextron", false},
		{"/* hi */ UPDATE testextron SET room = 'x'", false},
		{"SELECT * INTO OUTFILE '/tmp/x' FROM testextron", false},
		{"SELECT 1 -- \nFROM dual", true},
		{"SHOW TABLES", false},
	}
	for _, tt := range tests {
		err := checkReadOnly(tt.query)
		if tt.ok {
			assert.NoError(t, err, tt.query)
		} else {
			assert.Error(t, err, tt.query)
		}
	}
}
