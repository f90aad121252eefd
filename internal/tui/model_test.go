package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreduce/internal/retriever"
)

type fakeAsker struct {
	questions []string
	resp      *retriever.Response
	err       error
}

func (f *fakeAsker) Ask(_ context.Context, q string) (*retriever.Response, error) {
	f.questions = append(f.questions, q)
	return f.resp, f.err
}

func typeAndEnter(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestSubmit_AsksAndRendersAnswer(t *testing.T) {
	asker := &fakeAsker{resp: &retriever.Response{
		Answer:  "Paris.",
		Sources: []retriever.Source{{FileName: "geo.txt", PageNumber: 1, ChunkNumber: 2}},
	}}
	m := New(context.Background(), asker)

	m, cmd := typeAndEnter(t, m, "  Capital of France?  ")
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.Transcript(), 1)
	assert.Contains(t, m.Transcript()[0], "Capital of France?")

	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.False(t, m.busy)
	assert.Equal(t, []string{"Capital of France?"}, asker.questions)
	require.Len(t, m.Transcript(), 2)
	assert.Contains(t, m.Transcript()[1], "Paris.")
	assert.Contains(t, m.Transcript()[1], "geo.txt p1 #2")
}

func TestSubmit_EmptyInputIsSkipped(t *testing.T) {
	asker := &fakeAsker{}
	m := New(context.Background(), asker)

	m, cmd := typeAndEnter(t, m, "   ")
	assert.Nil(t, cmd)
	assert.Empty(t, m.Transcript())
	assert.Equal(t, "Please enter a question.", m.Status())
	assert.Empty(t, asker.questions)
}

func TestSubmit_ExitWords(t *testing.T) {
	for _, word := range []string{"exit", "quit", "QUIT", " Exit "} {
		t.Run(word, func(t *testing.T) {
			m := New(context.Background(), &fakeAsker{})
			_, cmd := typeAndEnter(t, m, word)
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
		})
	}
}

func TestSubmit_IgnoredWhileBusy(t *testing.T) {
	asker := &fakeAsker{resp: &retriever.Response{Answer: "ok"}}
	m := New(context.Background(), asker)

	m, first := typeAndEnter(t, m, "first")
	require.NotNil(t, first)
	m, second := typeAndEnter(t, m, "second")
	assert.Nil(t, second)
	assert.Len(t, m.Transcript(), 1)
	assert.True(t, strings.HasPrefix(m.Status(), "Still answering"))
}

func TestAnswerError(t *testing.T) {
	m := New(context.Background(), &fakeAsker{err: errors.New("model offline")})
	m, cmd := typeAndEnter(t, m, "anything")
	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.Contains(t, m.Status(), "model offline")
	require.Len(t, m.Transcript(), 2)
	assert.Contains(t, m.Transcript()[1], "model offline")
}

func TestCtrlCQuits(t *testing.T) {
	m := New(context.Background(), &fakeAsker{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewBeforeAndAfterResize(t *testing.T) {
	m := New(context.Background(), &fakeAsker{})
	assert.Equal(t, "Loading...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = next.(Model)
	assert.Contains(t, m.View(), "docreduce")
}

func TestRenderAnswerWarning(t *testing.T) {
	out := renderAnswer(&retriever.Response{Answer: "hi", Warning: "no context"})
	assert.Contains(t, out, "Warning: no context")
	assert.NotContains(t, out, "Sources:")
}
