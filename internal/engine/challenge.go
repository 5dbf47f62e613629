package engine

// challengeProbeScript reports whether an interactive bot-challenge is
// currently presented. It looks for the Cloudflare interstitial title,
// the Turnstile widget iframe and the challenge form input that the
// interstitial renders while waiting for interaction.
const challengeProbeScript = `
(() => {
    const title = (document.title || '').toLowerCase();
    if (title.includes('just a moment') || title.includes('attention required')) {
        return true;
    }
    if (document.querySelector('iframe[src*="challenges.cloudflare.com"]')) {
        return true;
    }
    if (document.querySelector('input[name="cf-turnstile-response"]')) {
        return true;
    }
    if (document.querySelector('#challenge-form, .cf-turnstile, #cf-chl-widget')) {
        return true;
    }
    return false;
})()`

// challengeBoxScript locates the clickable challenge widget and returns
// the viewport coordinates of its checkbox area. The checkbox sits in
// the left portion of the widget, so the click point is offset from the
// widget's left edge rather than centered.
const challengeBoxScript = `
(() => {
    const el = document.querySelector('iframe[src*="challenges.cloudflare.com"]')
        || document.querySelector('.cf-turnstile, #cf-chl-widget, #challenge-stage');
    if (!el) {
        return { found: false, x: 0, y: 0 };
    }
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) {
        return { found: false, x: 0, y: 0 };
    }
    return { found: true, x: r.left + 30, y: r.top + r.height / 2 };
})()`
