package email

import (
	"bytes"
	"html/template"
)

const pageLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta name="robots" content="noindex">
<title>{{.Title}}</title>
</head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background-color:#f4f5f7;">
<table width="100%" cellpadding="0" cellspacing="0" style="background-color:#f4f5f7;padding:40px 0;">
<tr><td align="center">
<table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;overflow:hidden;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
  <tr><td style="padding:32px 40px 24px;text-align:center;">
    <h1 style="margin:0;font-size:24px;color:#1a1a2e;">{{.Title}}</h1>
  </td></tr>
  <tr><td style="padding:0 40px 32px;">
    <p style="margin:0;font-size:15px;color:#4a4a68;line-height:1.6;">{{.Message}}</p>
  </td></tr>
  <tr><td style="padding:16px 40px;background-color:#f9f9fc;border-top:1px solid #eeeef2;">
    <p style="margin:0;font-size:12px;color:#aaaabc;text-align:center;">&copy; {{.AppName}}</p>
  </td></tr>
</table>
</td></tr>
</table>
</body>
</html>`

var pageTemplate = template.Must(template.New("page").Parse(pageLayout))

type pageData struct {
	Title   string
	Message string
	AppName string
}

func renderPage(data pageData) string {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		// The layout is static; only a broken writer can fail here.
		return data.Title
	}
	return buf.String()
}

// UnsubscribedPageHTML returns the confirmation page shown after a manual unsubscribe.
func UnsubscribedPageHTML(emailAddr, appName string) string {
	return renderPage(pageData{
		Title:   "You have been unsubscribed",
		Message: emailAddr + " will no longer receive marketing emails from " + appName + ". Receipts and account notices are not affected.",
		AppName: appName,
	})
}

// UnsubscribeErrorPageHTML returns the page shown when an unsubscribe link cannot be used.
func UnsubscribeErrorPageHTML(reason, appName string) string {
	return renderPage(pageData{
		Title:   "This link cannot be used",
		Message: reason,
		AppName: appName,
	})
}
