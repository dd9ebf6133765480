package browser

// jsControlAt finds the option list inside the cell at (row, column). Grids with pinned
// columns render one row container per section, so every matching cell is tried.
const jsControlAt = `(rowAttr, row, colAttr, col, listSel) => {
	const rows = document.querySelectorAll('[' + rowAttr + '="' + row + '"]');
	for (const r of rows) {
		for (const cell of r.querySelectorAll('[' + colAttr + ']')) {
			if (cell.getAttribute(colAttr) !== col) continue;
			if (cell.matches(listSel)) return cell;
			const list = cell.querySelector(listSel);
			if (list) return list;
		}
	}
	return null;
}`

// jsInspect reads everything the engine needs about a control in one round trip.
const jsInspect = `(listSel) => {
	const r = this.getBoundingClientRect();
	const state = {
		attached: this.isConnected,
		isList: this.matches(listSel),
		rect: { x: r.x, y: r.y, width: r.width, height: r.height },
		options: [],
		selectedIndex: -1,
		value: '',
	};
	if (this instanceof HTMLSelectElement) {
		state.options = Array.from(this.options).map(o => ({ label: o.text, value: o.value }));
		state.selectedIndex = this.selectedIndex;
		state.value = this.value;
		return state;
	}
	const opts = Array.from(this.querySelectorAll('[role="option"]'));
	state.options = opts.map(o => ({
		label: o.textContent || '',
		value: o.getAttribute('data-value') || (o.textContent || '').trim(),
	}));
	state.selectedIndex = opts.findIndex(o => o.getAttribute('aria-selected') === 'true');
	if (state.selectedIndex >= 0) {
		state.value = state.options[state.selectedIndex].value;
	} else if ('value' in this) {
		state.value = this.value || '';
	}
	return state;
}`

// jsSetSelected selects option i. It returns false when the control is detached.
const jsSetSelected = `(i) => {
	if (!this.isConnected) return false;
	if (this instanceof HTMLSelectElement) {
		this.selectedIndex = i;
		return true;
	}
	const opts = Array.from(this.querySelectorAll('[role="option"]'));
	opts.forEach((o, j) => o.setAttribute('aria-selected', j === i ? 'true' : 'false'));
	if (opts[i]) opts[i].click();
	return true;
}`

// jsDispatch raises synthetic events so the page's own listeners see the change.
const jsDispatch = `(events) => {
	if (!this.isConnected) return false;
	for (const e of events) {
		const init = { bubbles: true, cancelable: true };
		if (e.key) {
			this.dispatchEvent(new KeyboardEvent(e.type, Object.assign({ key: e.key }, init)));
		} else if (e.type === 'focus' || e.type === 'blur') {
			this.dispatchEvent(new FocusEvent(e.type));
		} else {
			this.dispatchEvent(new Event(e.type, init));
		}
	}
	return true;
}`

// jsKeyListener forwards keydown events on the page to the exposed binding. Only trusted
// events count, so the synthetic keys raised by jsDispatch never reach the stop key.
const jsKeyListener = `(binding) => {
	if (window['__gridfillKeys']) return;
	window['__gridfillKeys'] = true;
	document.addEventListener('keydown', (e) => {
		if (!e.isTrusted) return;
		if (typeof window[binding] === 'function') window[binding](e.key);
	}, true);
}`
