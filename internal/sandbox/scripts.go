package sandbox

import (
	"fmt"

	"github.com/xkilldash9x/mender/internal/analysis/static"
)

// jsPrelude defines helpers shared by the page scripts. cssPath mirrors
// static.CSSPath so selectors agree between the analyzer and the sandbox.
const jsPrelude = `
const cssPath = (el) => {
	const parts = [];
	for (let n = el; n && n.nodeType === 1; n = n.parentElement) {
		if (n.id && /^[A-Za-z_][\w-]*$/.test(n.id)) { parts.unshift('#' + n.id); break; }
		const tag = n.tagName.toLowerCase();
		if (tag === 'body' || tag === 'html') { parts.unshift(tag); break; }
		const same = n.parentElement ? Array.from(n.parentElement.children).filter(c => c.tagName === n.tagName) : [];
		parts.unshift(same.length > 1 ? tag + ':nth-of-type(' + (same.indexOf(n) + 1) + ')' : tag);
	}
	return parts.join(' > ');
};
const box = (el) => { const r = el.getBoundingClientRect(); return {x: r.x, y: r.y, width: r.width, height: r.height}; };
const visible = (el) => {
	const r = el.getBoundingClientRect();
	const s = getComputedStyle(el);
	return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
};
const interactive = (limit) => Array.from(document.querySelectorAll(%q)).filter(visible).slice(0, limit);
`

func script(body string, args ...interface{}) string {
	return "(() => {" + fmt.Sprintf(jsPrelude, static.InteractiveSelector) + fmt.Sprintf(body, args...) + "})()"
}

func discoverScript(limit int) string {
	return script(`
return interactive(%d).map(el => ({
	selector: cssPath(el),
	tag: el.tagName.toLowerCase(),
	type: (el.getAttribute('type') || '').toLowerCase(),
}));`, limit)
}

func locateScript(selector string) string {
	return script(`
const el = document.querySelector(%q);
if (!el) return {found: false};
el.scrollIntoView({block: 'center', inline: 'center'});
const parent = el.parentElement || document.body;
return {
	found: true,
	selector: %q,
	tag: el.tagName.toLowerCase(),
	type: (el.getAttribute('type') || '').toLowerCase(),
	rect: box(el),
	parent: box(parent),
};`, selector, selector)
}

// inspectScript reports occlusion, disabled pointer events and missing
// affordances for the first limit interactive elements.
func inspectScript(limit int) string {
	return script(`
const native = new Set(['a', 'button', 'input', 'select', 'textarea', 'summary', 'label', 'option']);
const clear = (s, el) => parseFloat(s.opacity) < 0.1 ||
	((s.backgroundColor === 'transparent' || /rgba\(.*,\s*0\)$/.test(s.backgroundColor)) &&
		s.backgroundImage === 'none' && !el.textContent.trim());
const out = [];
for (const el of interactive(%d)) {
	const s = getComputedStyle(el);
	const selector = cssPath(el);
	const tag = el.tagName.toLowerCase();
	if (s.pointerEvents === 'none') {
		out.push({kind: 'POINTER_BLOCKED', selector, tag, occluder: '', metadata: {reason: 'pointer-events-none'}});
		continue;
	}
	const r = el.getBoundingClientRect();
	const cx = r.x + r.width / 2, cy = r.y + r.height / 2;
	if (cx >= 0 && cy >= 0 && cx < innerWidth && cy < innerHeight) {
		const hit = document.elementFromPoint(cx, cy);
		if (hit && hit !== el && !el.contains(hit) && !hit.contains(el)) {
			const hs = getComputedStyle(hit);
			if (clear(hs, hit)) {
				out.push({kind: 'POINTER_BLOCKED', selector, tag, occluder: cssPath(hit), metadata: {reason: 'overlay'}});
			} else {
				const z = parseInt(hs.zIndex, 10);
				out.push({kind: 'ZINDEX_CONFLICT', selector, tag, occluder: cssPath(hit),
					metadata: {occluder_z_index: String(isNaN(z) ? 0 : z), position: s.position}});
			}
			continue;
		}
	}
	if (!native.has(tag) && s.cursor !== 'pointer' && (el.hasAttribute('onclick') || el.getAttribute('role') === 'button')) {
		out.push({kind: 'MISSING_FEEDBACK', selector, tag, occluder: '', metadata: {cursor: s.cursor}});
	}
}
return out;`, limit)
}
