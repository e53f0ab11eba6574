package model

// ComponentGroup classifies component types by role.
type ComponentGroup string

const (
	GroupLayout      ComponentGroup = "layout"
	GroupDisplay     ComponentGroup = "display"
	GroupInteractive ComponentGroup = "interactive"
	GroupContainer   ComponentGroup = "container"
	GroupGame        ComponentGroup = "game"
	GroupChart       ComponentGroup = "chart"
	GroupWidget      ComponentGroup = "widget"
)

const TypeWidgetInstance = "widgetInstance"

var catalog = map[string]ComponentGroup{
	"row":         GroupLayout,
	"column":      GroupLayout,
	"stack":       GroupLayout,
	"grid":        GroupLayout,
	"scrollArea":  GroupLayout,
	"aspectRatio": GroupLayout,
	"overlay":     GroupLayout,
	"absolute":    GroupLayout,

	"text":               GroupDisplay,
	"image":              GroupDisplay,
	"icon":               GroupDisplay,
	"video":              GroupDisplay,
	"lottie":             GroupDisplay,
	"markdown":           GroupDisplay,
	"divider":            GroupDisplay,
	"badge":              GroupDisplay,
	"avatar":             GroupDisplay,
	"progress":           GroupDisplay,
	"spinner":            GroupDisplay,
	"skeleton":           GroupDisplay,
	"table":              GroupDisplay,
	"tableRow":           GroupDisplay,
	"tableCell":          GroupDisplay,
	"filePreview":        GroupDisplay,
	"boundingBoxOverlay": GroupDisplay,
	"iframe":             GroupDisplay,

	"button":        GroupInteractive,
	"textField":     GroupInteractive,
	"select":        GroupInteractive,
	"slider":        GroupInteractive,
	"checkbox":      GroupInteractive,
	"switch":        GroupInteractive,
	"radioGroup":    GroupInteractive,
	"dateTimeInput": GroupInteractive,
	"fileInput":     GroupInteractive,
	"imageInput":    GroupInteractive,
	"link":          GroupInteractive,
	"imageLabeler":  GroupInteractive,
	"imageHotspot":  GroupInteractive,

	"card":      GroupContainer,
	"modal":     GroupContainer,
	"tabs":      GroupContainer,
	"accordion": GroupContainer,
	"drawer":    GroupContainer,
	"tooltip":   GroupContainer,
	"popover":   GroupContainer,

	"canvas2d":          GroupGame,
	"sprite":            GroupGame,
	"shape":             GroupGame,
	"scene3d":           GroupGame,
	"model3d":           GroupGame,
	"dialogue":          GroupGame,
	"characterPortrait": GroupGame,
	"choiceMenu":        GroupGame,
	"inventoryGrid":     GroupGame,
	"healthBar":         GroupGame,
	"miniMap":           GroupGame,

	"plotlyChart": GroupChart,
	"nivoChart":   GroupChart,

	TypeWidgetInstance: GroupWidget,
}

// LookupComponentType reports the group of a known component type.
func LookupComponentType(typ string) (ComponentGroup, bool) {
	g, ok := catalog[typ]
	return g, ok
}

// ComponentTypes returns every known component type.
func ComponentTypes() []string {
	out := make([]string, 0, len(catalog))
	for typ := range catalog {
		out = append(out, typ)
	}
	return out
}
