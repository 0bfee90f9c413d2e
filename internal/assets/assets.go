package assets

import _ "embed"

// CollectorJS is the browser collector served at /dna.js. It probes the
// environment, WebGL, canvas and audio capabilities and posts a report to
// /v1/fingerprint, signing it when /hmac.js has installed a key.
//
//go:embed dna.js
var CollectorJS []byte
