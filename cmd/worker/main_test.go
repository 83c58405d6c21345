package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hospital-backoffice/backoffice/internal/app"
	_ "github.com/hospital-backoffice/backoffice/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
