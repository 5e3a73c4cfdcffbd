package mysql_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/500Foods/Philement-sub005/pkg/engine/mysql"
)

func TestValidateConnectionString(t *testing.T) {
	drv := mysql.New()
	assert.NoError(t, drv.ValidateConnectionString("bob:pw@tcp(localhost:3306)/catalog"))
	assert.Error(t, drv.ValidateConnectionString("not a dsn at all ==="))
}

func TestEscapeString(t *testing.T) {
	drv := mysql.New()
	assert.Equal(t, "O''Brien", drv.EscapeString("O'Brien"))
}
