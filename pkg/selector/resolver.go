package selector

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step is one scoping level of a locator: a parsed selector plus an optional
// index (-1 when the locator was not narrowed with Nth/First). A nil Selector
// narrows the previous step's matches by Index alone.
type Step struct {
	Selector *Selector `json:"selector"`
	Index    int       `json:"index"`
}

// ResolverJS defines window.__funnelResolve(steps) in the page. It returns
// the elements matched by the last step, each step evaluated relative to the
// previous step's matches, starting from the document.
const ResolverJS = `(() => {
  if (window.__funnelResolve) return true;
  const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
  const textOf = (el) => norm(el.textContent);
  const textMatch = (el, part) => {
    const t = textOf(el);
    return part.exact ? t === norm(part.text) : t.toLowerCase().includes(norm(part.text).toLowerCase());
  };
  const queryText = (root, part) => {
    const pool = [];
    if (root.nodeType === 1) pool.push(root);
    root.querySelectorAll('*').forEach((el) => {
      const tag = el.tagName;
      if (tag !== 'SCRIPT' && tag !== 'STYLE' && tag !== 'NOSCRIPT') pool.push(el);
    });
    const hits = pool.filter((el) => textMatch(el, part));
    return hits.filter((el) => !hits.some((o) => o !== el && el.contains(o)));
  };
  const queryCSS = (root, part) => {
    let els = [];
    if (root.nodeType === 1 && root.matches(part.css)) els.push(root);
    els = els.concat(Array.from(root.querySelectorAll(part.css)));
    for (const t of (part.hasText || [])) {
      const needle = norm(t).toLowerCase();
      els = els.filter((el) => textOf(el).toLowerCase().includes(needle));
    }
    return els;
  };
  const uniqueInOrder = (els) => {
    const seen = new Set();
    const out = els.filter((el) => (seen.has(el) ? false : (seen.add(el), true)));
    return out.sort((a, b) => {
      if (a === b) return 0;
      return a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING ? -1 : 1;
    });
  };
  const resolveSelector = (sel, roots) => {
    let all = [];
    for (const chain of sel.alternatives) {
      let current = roots;
      for (const part of chain.parts) {
        let next = [];
        for (const r of current) {
          next = next.concat(part.kind === 'text' ? queryText(r, part) : queryCSS(r, part));
        }
        current = uniqueInOrder(next);
      }
      all = all.concat(current);
    }
    return uniqueInOrder(all);
  };
  window.__funnelVisible = (el) => {
    if (!el || !el.isConnected) return false;
    const style = window.getComputedStyle(el);
    if (style.visibility === 'hidden' || style.display === 'none') return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  window.__funnelResolve = (steps) => {
    let roots = [document];
    for (const step of steps) {
      let els = step.selector ? resolveSelector(step.selector, roots) : roots;
      if (step.index >= 0) els = step.index < els.length ? [els[step.index]] : [];
      roots = els;
    }
    return roots;
  };
  return true;
})()`

// Expression builds a self-contained script that installs the resolver and
// evaluates body with the matches bound to the variable els. body must end
// in a return statement.
func Expression(steps []Step, body string) (string, error) {
	encoded, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("encode locator: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("(() => {\n")
	sb.WriteString(ResolverJS)
	sb.WriteString(";\nconst els = window.__funnelResolve(")
	sb.Write(encoded)
	sb.WriteString(");\n")
	sb.WriteString(body)
	sb.WriteString("\n})()")
	return sb.String(), nil
}
