package widget

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/guarzo/commentproxy/common/model"
)

// Values in the <script> block are escaped for the JS context by html/template,
// so the config is emitted as a JSON object literal.
var embedHTML = htmltemplate.Must(htmltemplate.New("embed_html").Parse(`
<div id="comment-widget-{{.ThreadID}}"></div>
<script>
(function() {
    var script = document.createElement('script');
    script.src = {{.ScriptURL}};
    script.onload = function() {
        CommentWidget.init({{.ThreadID}}, {{.Config}});
    };
    document.head.appendChild(script);
})();
</script>
`))

var embedScript = texttemplate.Must(texttemplate.New("embed_script").Parse(`
// Comment Widget Embed Code for Thread: {{js .ThreadID}}
(function() {
    var config = {{.ConfigJSON}};
    console.log('Comment widget loaded for thread: {{js .ThreadID}}', config);
})();
`))

// Colors land in style attributes, where html/template replaces anything that
// is not a plain CSS value.
var previewHTML = htmltemplate.Must(htmltemplate.New("preview_html").Parse(`
<div class="comment-widget-preview" style="border: 1px solid #ddd; padding: 20px; border-radius: 8px; background: {{.Colors.Background}}; color: {{.Colors.Text}};">
    <h4>Widget Preview - {{.ThemeTitle}} Theme</h4>
    <p>This is how your comment widget will look with the current configuration.</p>
    <div class="preview-comment">
        <strong>Sample Comment</strong>
        <p>This is a preview of how comments will appear in your widget.</p>
        <small>Posted just now</small>
    </div>
    <button style="background: {{.Colors.Primary}}; color: white; border: none; padding: 8px 16px; border-radius: 4px;">
        Add Comment
    </button>
</div>
`))

type previewData struct {
	ThemeTitle string
	Colors     model.WidgetColors
}

func renderPreview(cfg model.WidgetConfig) (string, error) {
	title := cfg.Theme
	if title != "" {
		title = strings.ToUpper(title[:1]) + title[1:]
	}

	var b bytes.Buffer
	if err := previewHTML.Execute(&b, previewData{ThemeTitle: title, Colors: cfg.Colors}); err != nil {
		return "", fmt.Errorf("failed to render widget preview: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

type embedData struct {
	ThreadID   string
	ScriptURL  string
	Config     model.WidgetConfig
	ConfigJSON string
}

func renderEmbed(threadID, scriptURL string, cfg model.WidgetConfig) (string, string, error) {
	// json.Marshal escapes <, > and & so the literal cannot close the script.
	cfgJSON, err := json.MarshalIndent(cfg, "    ", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode widget config: %w", err)
	}

	data := embedData{
		ThreadID:   threadID,
		ScriptURL:  scriptURL,
		Config:     cfg,
		ConfigJSON: string(cfgJSON),
	}

	var h bytes.Buffer
	if err := embedHTML.Execute(&h, data); err != nil {
		return "", "", fmt.Errorf("failed to render embed html: %w", err)
	}
	var s bytes.Buffer
	if err := embedScript.Execute(&s, data); err != nil {
		return "", "", fmt.Errorf("failed to render embed script: %w", err)
	}
	return strings.TrimSpace(h.String()), strings.TrimSpace(s.String()), nil
}
