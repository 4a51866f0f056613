package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "gohts/domain/hierarchy"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
)

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels("region=Region, Facility ,")
	require.NoError(t, err)
	assert.Equal(t, []domain.Level{{Name: "region", Column: "Region"}, {Name: "facility", Column: "Facility"}}, levels)

	_, err = parseLevels(" , ")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
	_, err = parseLevels("region=")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestSplitWindows(t *testing.T) {
	last := time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)
	w, err := splitWindows(30, inputOptions{validation: 7, test: 5, season: 7}, hierarchy.Daily, last)
	require.NoError(t, err)
	assert.Equal(t, [2]int{7, 18}, w.train)
	assert.Equal(t, [2]int{18, 25}, w.validation)
	assert.Equal(t, [2]int{25, 30}, w.test)
	assert.Empty(t, w.future)

	w, err = splitWindows(30, inputOptions{validation: 7, test: 5, horizon: 3, season: 7}, hierarchy.Daily, last)
	require.NoError(t, err)
	assert.Equal(t, [2]int{23, 30}, w.validation)
	require.Len(t, w.future, 3)
	assert.Equal(t, last.AddDate(0, 0, 1), w.future[0])

	_, err = splitWindows(12, inputOptions{validation: 7, test: 5, season: 7}, hierarchy.Daily, last)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	_, err = splitWindows(30, inputOptions{validation: 0, test: 5, season: 7}, hierarchy.Daily, last)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
