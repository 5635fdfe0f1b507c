package browser

import (
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// call renders an immediately invoked function expression with args
// serialized as a JSON literal.
func call(fn string, args any) string {
	b, err := jsonAPI.Marshal(args)
	if err != nil {
		b = []byte("{}")
	}
	return "(" + fn + ")(" + string(b) + ")"
}

// refAttr marks elements returned by Locate so that later actions can find
// the same node again without holding a remote object.
const refAttr = "data-chatpilot-ref"

type locateArgs struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
	Index int    `json:"index"`
}

type locateResult struct {
	Found bool    `json:"found"`
	Ref   string  `json:"ref"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Error string  `json:"error"`
}

const locateJS = `function(a) {
	const visible = (el) => { const r = el.getBoundingClientRect(); return r.width > 0 && r.height > 0; };
	let nodes = [];
	try {
		if (a.kind === "css") {
			nodes = Array.from(document.querySelectorAll(a.value));
		} else if (a.kind === "accessibility") {
			nodes = Array.from(document.querySelectorAll("[aria-label],[title],[placeholder]")).filter((el) =>
				["aria-label", "title", "placeholder"].some((k) => (el.getAttribute(k) || "").includes(a.value)));
		} else if (a.kind === "text") {
			const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
			const seen = new Set();
			while (walker.nextNode()) {
				const el = walker.currentNode.parentElement;
				if (el && !seen.has(el) && walker.currentNode.nodeValue.trim().includes(a.value)) {
					seen.add(el);
					nodes.push(el);
				}
			}
		}
	} catch (e) {
		return { found: false, error: String(e) };
	}
	nodes = nodes.filter(visible);
	const el = nodes[a.index || 0];
	if (!el) return { found: false };
	window.__chatpilotRef = (window.__chatpilotRef || 0) + 1;
	const ref = String(window.__chatpilotRef);
	el.setAttribute("` + refAttr + `", ref);
	el.scrollIntoView({ block: "center" });
	const r = el.getBoundingClientRect();
	return { found: true, ref: ref, x: r.left + r.width / 2, y: r.top + r.height / 2 };
}`

type surfaceArgs struct {
	Selectors []string `json:"selectors"`
	Identity  string   `json:"identity,omitempty"`
}

type surfaceResult struct {
	Identity string  `json:"identity"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// surfacesJS returns the items of the first selector that matches anything.
// The identity of an item is the first non-empty line of its text.
const surfacesJS = `function(a) {
	const identity = (el) => ((el.innerText || el.textContent || "").split("\n").map((s) => s.trim()).find((s) => s) || "");
	for (const sel of a.selectors) {
		let items = [];
		try { items = Array.from(document.querySelectorAll(sel)); } catch (e) { continue; }
		items = items.filter((el) => { const r = el.getBoundingClientRect(); return r.width > 0 && r.height > 0; });
		if (items.length === 0) continue;
		return items.map((el) => {
			const r = el.getBoundingClientRect();
			return { identity: identity(el), x: r.left, y: r.top, width: r.width, height: r.height };
		});
	}
	return [];
}`

// raiseJS clicks the surface item whose identity matches exactly.
const raiseJS = `function(a) {
	const identity = (el) => ((el.innerText || el.textContent || "").split("\n").map((s) => s.trim()).find((s) => s) || "");
	for (const sel of a.selectors) {
		let items = [];
		try { items = Array.from(document.querySelectorAll(sel)); } catch (e) { continue; }
		const hit = items.find((el) => identity(el) === a.identity);
		if (hit) { hit.scrollIntoView({ block: "center" }); hit.click(); return true; }
	}
	return false;
}`

// badgeJS sums the leading digits of every badge element.
const badgeJS = `function(a) {
	let total = 0;
	for (const sel of a.selectors) {
		let items = [];
		try { items = Array.from(document.querySelectorAll(sel)); } catch (e) { continue; }
		for (const el of items) {
			const m = (el.textContent || "").trim().match(/^\d+/);
			if (m) total += parseInt(m[0], 10);
		}
	}
	return total;
}`

type refArgs struct {
	Ref string `json:"ref"`
}

// focusJS focuses the referenced element and puts the caret at its end.
const focusJS = `function(a) {
	const el = document.querySelector("[` + refAttr + `='" + a.ref + "']");
	if (!el) return false;
	el.focus();
	if (el.isContentEditable) {
		const range = document.createRange();
		range.selectNodeContents(el);
		range.collapse(false);
		const sel = window.getSelection();
		sel.removeAllRanges();
		sel.addRange(range);
	}
	return true;
}`

// clearJS empties an input, textarea or contenteditable element.
const clearJS = `function(a) {
	const el = document.querySelector("[` + refAttr + `='" + a.ref + "']");
	if (!el) return false;
	el.focus();
	if (el.tagName === "INPUT" || el.tagName === "TEXTAREA") {
		el.value = "";
		el.dispatchEvent(new Event("input", { bubbles: true }));
		return true;
	}
	if (el.isContentEditable) {
		const range = document.createRange();
		range.selectNodeContents(el);
		const sel = window.getSelection();
		sel.removeAllRanges();
		sel.addRange(range);
		document.execCommand("delete");
		return true;
	}
	return false;
}`

const viewportJS = `[window.innerWidth, window.innerHeight]`
