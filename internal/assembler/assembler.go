// Package assembler reconstructs the remote run document from a stream
// of JSON Patch batches and exposes the projections the chat UI needs:
// the growing answer text, the retrieved source list and the run id.
package assembler

import (
	"encoding/json"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/gjson"

	"github.com/user/chatrelay/internal/domain"
)

// applyOptions: adds may target paths whose parents do not exist yet
// (the stream creates logs/<step> containers incrementally), while
// replace and remove on a missing path stay hard failures.
var applyOptions = func() *jsonpatch.ApplyOptions {
	opts := jsonpatch.NewApplyOptions()
	opts.EnsurePathExistsOnAdd = true
	return opts
}()

// Assembler holds the latest materialized snapshot of the streamed
// document. Each batch replaces the snapshot wholesale; a failed batch
// leaves the previous snapshot intact for display.
type Assembler struct {
	stepName string

	doc     []byte
	text    string
	sources []domain.Source
	runID   string
}

// New returns an Assembler over an empty document. stepName is the
// retrieval step whose final output carries the source documents.
func New(stepName string) *Assembler {
	return &Assembler{stepName: stepName, doc: []byte(`{}`)}
}

// Apply applies one batch of patch operations (a JSON array of
// {op, path, value}) to the current document and refreshes the
// projections. On failure the document and all projections are
// unchanged and a MalformedPatchError is returned.
func (a *Assembler) Apply(ops json.RawMessage) error {
	patch, err := jsonpatch.DecodePatch(ops)
	if err != nil {
		return &domain.MalformedPatchError{Cause: err}
	}
	next, err := patch.ApplyWithOptions(a.doc, applyOptions)
	if err != nil {
		return &domain.MalformedPatchError{Cause: err}
	}
	a.doc = next
	a.refresh()
	return nil
}

// refresh re-derives the projections. Each projection only moves
// forward: when the backing path is absent or has the wrong shape the
// previous value is kept, so the UI never sees a populated field revert.
func (a *Assembler) refresh() {
	if v := gjson.GetBytes(a.doc, "streamed_output"); v.IsArray() {
		var b strings.Builder
		for _, chunk := range v.Array() {
			b.WriteString(chunk.String())
		}
		a.text = b.String()
	}

	if v := gjson.GetBytes(a.doc, "logs."+a.stepName+".final_output.output"); v.IsArray() {
		docs := v.Array()
		sources := make([]domain.Source, 0, len(docs))
		for _, doc := range docs {
			sources = append(sources, domain.Source{
				URL:   doc.Get("metadata.source").String(),
				Title: doc.Get("metadata.crumbs").String(),
			})
		}
		a.sources = sources
	}

	if v := gjson.GetBytes(a.doc, "id"); v.Exists() {
		a.runID = v.String()
	}
}

// Text returns the concatenation of the streamed output fragments seen
// so far.
func (a *Assembler) Text() string { return a.text }

// Sources returns the retrieved sources for the retrieval step, in
// descriptor order, or nil until the step has completed.
func (a *Assembler) Sources() []domain.Source { return a.sources }

// RunID returns the run correlation id once the document exposes it.
// The service contract is that it does not change mid-stream.
func (a *Assembler) RunID() string { return a.runID }

// Document returns the current snapshot. Callers must not mutate it.
func (a *Assembler) Document() []byte { return a.doc }
