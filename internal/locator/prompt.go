package locator

import "fmt"

const locateSystemPrompt = `You find UI elements in screenshots. Reply with a single JSON object only.`

const locatePromptTemplate = `Find the UI element that best matches this description in the attached screenshot.

ELEMENT DESCRIPTION: %s

The screenshot is %d pixels wide and %d pixels tall. Report coordinates in those pixels.

ELEMENT IDENTIFICATION GUIDELINES:
1. Only consider elements visible in this screenshot. Never guess where a hidden element might be.
2. Prefer, in order: exact text matches, synonyms or semantically similar text, visual
   characteristics (shape, icon, colour), then position relative to other elements.
3. For text inputs, find the associated label first and then the field near it.
4. Desktop icons and files in a file browser are double-click targets; elements inside an open
   application are single-click targets.
5. Once an element clearly matches, commit to it.

RESPONSE FORMAT:
{
  "found": true,
  "left": x_coordinate,
  "top": y_coordinate,
  "right": x_coordinate,
  "bottom": y_coordinate,
  "confidence": 0.95,
  "element_type": "button|text_field|checkbox|dropdown|link|icon|desktop_icon|file_icon|taskbar_icon|window_control",
  "click_type": "single|double"
}

If the element is not visible, reply {"found": false, "confidence": 0}.`

func buildLocatePrompt(description string, width, height int) string {
	return fmt.Sprintf(locatePromptTemplate, description, width, height)
}
