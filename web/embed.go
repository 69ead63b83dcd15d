// Package web embeds the browser dashboard served at "/".
package web

import "embed"

//go:embed index.html app.js styles.css
var Content embed.FS
