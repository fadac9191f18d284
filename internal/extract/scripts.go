package extract

// TitleJS returns the trimmed text of the first selector that matches a
// non-empty element, or "".
const TitleJS = `(selectors) => {
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		const text = el && el.textContent ? el.textContent.trim() : '';
		if (text) return text;
	}
	return '';
}`

// EntriesJS collects user and assistant elements with their text, descendant
// image sources and vertical page offset. Elements nested inside another match
// of the same selector are skipped so text is not counted twice.
const EntriesJS = `(userSel, assistantSel, textSel) => {
	const collect = (sel, role) => {
		if (!sel) return [];
		const els = Array.from(document.querySelectorAll(sel));
		return els
			.filter(el => !els.some(other => other !== el && other.contains(el)))
			.map(el => ({ role, el }));
	};
	const all = collect(userSel, 'user').concat(collect(assistantSel, 'assistant'));
	return all.map(({ role, el }) => {
		const holder = textSel ? (el.querySelector(textSel) || el) : el;
		const rect = el.getBoundingClientRect();
		const images = Array.from(el.querySelectorAll('img'))
			.map(img => img.currentSrc || img.src || img.getAttribute('src') || '')
			.filter(Boolean);
		return {
			role,
			text: (holder.textContent || '').trim(),
			images,
			top: rect.top + window.scrollY,
		};
	});
}`
