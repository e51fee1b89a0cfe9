package domain

import "strings"

const (
	cityZoom    = 11
	countryZoom = 5
)

// WorldView is used when a destination matches neither lookup table.
var WorldView = MapView{Lat: 20, Lng: 0, Zoom: 2}

type latLng struct{ lat, lng float64 }

// countryCenters is a coarse lookup of country centroids keyed by lowercase name.
var countryCenters = map[string]latLng{
	"argentina":      {-38.4161, -63.6167},
	"australia":      {-25.2744, 133.7751},
	"austria":        {47.5162, 14.5501},
	"belgium":        {50.5039, 4.4699},
	"brazil":         {-14.2350, -51.9253},
	"canada":         {56.1304, -106.3468},
	"chile":          {-35.6751, -71.5430},
	"china":          {35.8617, 104.1954},
	"croatia":        {45.1000, 15.2000},
	"czech republic": {49.8175, 15.4730},
	"denmark":        {56.2639, 9.5018},
	"egypt":          {26.8206, 30.8025},
	"finland":        {61.9241, 25.7482},
	"france":         {46.2276, 2.2137},
	"germany":        {51.1657, 10.4515},
	"greece":         {39.0742, 21.8243},
	"iceland":        {64.9631, -19.0208},
	"india":          {20.5937, 78.9629},
	"indonesia":      {-0.7893, 113.9213},
	"ireland":        {53.4129, -8.2439},
	"italy":          {41.8719, 12.5674},
	"japan":          {36.2048, 138.2529},
	"mexico":         {23.6345, -102.5528},
	"morocco":        {31.7917, -7.0926},
	"netherlands":    {52.1326, 5.2913},
	"new zealand":    {-40.9006, 174.8860},
	"norway":         {60.4720, 8.4689},
	"peru":           {-9.1900, -75.0152},
	"portugal":       {39.3999, -8.2245},
	"south africa":   {-30.5595, 22.9375},
	"south korea":    {35.9078, 127.7669},
	"spain":          {40.4637, -3.7492},
	"sweden":         {60.1282, 18.6435},
	"switzerland":    {46.8182, 8.2275},
	"thailand":       {15.8700, 100.9925},
	"turkey":         {38.9637, 35.2433},
	"united kingdom": {55.3781, -3.4360},
	"united states":  {37.0902, -95.7129},
	"vietnam":        {14.0583, 108.2772},
}

// countryAliases maps common alternative spellings onto countryCenters keys.
var countryAliases = map[string]string{
	"uk":                       "united kingdom",
	"great britain":            "united kingdom",
	"england":                  "united kingdom",
	"usa":                      "united states",
	"us":                       "united states",
	"united states of america": "united states",
	"korea":                    "south korea",
	"czechia":                  "czech republic",
	"holland":                  "netherlands",
}

// cityCenters covers frequently planned cities, keyed by lowercase name.
var cityCenters = map[string]latLng{
	"amsterdam":      {52.3676, 4.9041},
	"bangkok":        {13.7563, 100.5018},
	"barcelona":      {41.3874, 2.1686},
	"berlin":         {52.5200, 13.4050},
	"buenos aires":   {-34.6037, -58.3816},
	"cape town":      {-33.9249, 18.4241},
	"chicago":        {41.8781, -87.6298},
	"dublin":         {53.3498, -6.2603},
	"istanbul":       {41.0082, 28.9784},
	"kyoto":          {35.0116, 135.7681},
	"lisbon":         {38.7223, -9.1393},
	"london":         {51.5072, -0.1276},
	"los angeles":    {34.0522, -118.2437},
	"madrid":         {40.4168, -3.7038},
	"mexico city":    {19.4326, -99.1332},
	"new york":       {40.7128, -74.0060},
	"paris":          {48.8566, 2.3522},
	"prague":         {50.0755, 14.4378},
	"reykjavik":      {64.1466, -21.9426},
	"rio de janeiro": {-22.9068, -43.1729},
	"rome":           {41.9028, 12.4964},
	"san francisco":  {37.7749, -122.4194},
	"seoul":          {37.5665, 126.9780},
	"singapore":      {1.3521, 103.8198},
	"sydney":         {-33.8688, 151.2093},
	"tokyo":          {35.6762, 139.6503},
	"toronto":        {43.6532, -79.3832},
	"vancouver":      {49.2827, -123.1207},
	"vienna":         {48.2082, 16.3738},
}

// DefaultMapView derives the initial camera for a newly created trip.
// A known city gets a city-level view, otherwise a known country gets a
// country-level view, otherwise the world view is used.
func DefaultMapView(d Destination) MapView {
	if c, ok := cityCenters[normalizePlace(d.City)]; ok {
		return MapView{Lat: c.lat, Lng: c.lng, Zoom: cityZoom}
	}
	country := normalizePlace(d.Country)
	if alias, ok := countryAliases[country]; ok {
		country = alias
	}
	if c, ok := countryCenters[country]; ok {
		return MapView{Lat: c.lat, Lng: c.lng, Zoom: countryZoom}
	}
	return WorldView
}

func normalizePlace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
