package inject

// fallbackTemplate ships with the tool and is used when no template
// exists on disk and the config allows falling back. It carries the two
// markers the injector needs plus a guarded title local.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>{{.title}}</title>
</head>
<body>
	<div id="app"></div>
</body>
</html>
`
