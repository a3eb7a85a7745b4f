package htmlq

import (
	"strings"
	"testing"

	"golang.org/x/net/html/atom"
)

const doc = `<html><body>
<div class="codes wide">
  <div class="box"><p class="code">ABC <b>NEW!</b></p></div>
  <div class="box other"><p class="code">DEF</p></div>
</div>
<ul><li>one</li><li>two</li></ul>
</body></html>`

func TestFindAllByClass(t *testing.T) {
	root, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	container := First(root, Class("codes"))
	if container == nil {
		t.Fatal("expected .codes container")
	}
	boxes := FindAll(container, Class("box"))
	if len(boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d", len(boxes))
	}
	if got := strings.TrimSpace(Text(First(boxes[0], Class("code")))); got != "ABC NEW!" {
		t.Errorf("text: got %q", got)
	}
}

func TestTagAndChildren(t *testing.T) {
	root, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ul := First(root, Tag(atom.Ul))
	if ul == nil {
		t.Fatal("expected ul")
	}
	items := Children(ul, Tag(atom.Li))
	if len(items) != 2 || Text(items[1]) != "two" {
		t.Fatalf("unexpected items: %d", len(items))
	}
}

func TestTextNil(t *testing.T) {
	if Text(nil) != "" {
		t.Error("expected empty text for nil node")
	}
}
