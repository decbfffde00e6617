package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryListFlag(t *testing.T) {
	var countries countryList
	fs := flag.NewFlagSet("pull-rankings", flag.ContinueOnError)
	fs.Var(&countries, "country", "")

	require.NoError(t, fs.Parse([]string{"-country", "us, de", "-country", "UK", "-country", " "}))
	assert.Equal(t, countryList{"us", "de", "UK"}, countries)
	assert.Equal(t, "us,de,UK", countries.String())
}
