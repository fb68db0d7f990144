package jurisdiction

// State is one of the 32 federal entities, Mexico City included.
type State struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Capital string `json:"capital"`
}

type stateEntry struct {
	State
	aliases []string
}

// stateTable is fixed: new entities require a code change, not reference data.
var stateTable = []stateEntry{
	{State{"AGU", "Aguascalientes", "Aguascalientes"}, []string{"Ags"}},
	{State{"BCN", "Baja California", "Mexicali"}, []string{"BC", "Baja California Norte"}},
	{State{"BCS", "Baja California Sur", "La Paz"}, nil},
	{State{"CAM", "Campeche", "San Francisco de Campeche"}, []string{"Camp"}},
	{State{"CHP", "Chiapas", "Tuxtla Gutiérrez"}, []string{"Chis"}},
	{State{"CHH", "Chihuahua", "Chihuahua"}, []string{"Chih"}},
	{State{"CMX", "Ciudad de México", "Ciudad de México"}, []string{"CDMX", "Distrito Federal", "DF", "D.F.", "Mexico City"}},
	{State{"COA", "Coahuila", "Saltillo"}, []string{"Coahuila de Zaragoza", "Coah"}},
	{State{"COL", "Colima", "Colima"}, []string{"Col"}},
	{State{"DUR", "Durango", "Victoria de Durango"}, []string{"Dgo"}},
	{State{"GUA", "Guanajuato", "Guanajuato"}, []string{"Gto"}},
	{State{"GRO", "Guerrero", "Chilpancingo de los Bravo"}, []string{"Gro"}},
	{State{"HID", "Hidalgo", "Pachuca de Soto"}, []string{"Hgo"}},
	{State{"JAL", "Jalisco", "Guadalajara"}, []string{"Jal"}},
	{State{"MEX", "Estado de México", "Toluca de Lerdo"}, []string{"México", "Edomex", "Edo. Mex.", "Edo Mex"}},
	{State{"MIC", "Michoacán", "Morelia"}, []string{"Michoacán de Ocampo", "Mich"}},
	{State{"MOR", "Morelos", "Cuernavaca"}, []string{"Mor"}},
	{State{"NAY", "Nayarit", "Tepic"}, []string{"Nay"}},
	{State{"NLE", "Nuevo León", "Monterrey"}, []string{"NL"}},
	{State{"OAX", "Oaxaca", "Oaxaca de Juárez"}, []string{"Oax"}},
	{State{"PUE", "Puebla", "Heroica Puebla de Zaragoza"}, []string{"Pue"}},
	{State{"QUE", "Querétaro", "Santiago de Querétaro"}, []string{"Querétaro de Arteaga", "Qro"}},
	{State{"ROO", "Quintana Roo", "Chetumal"}, []string{"Q. Roo", "QRoo"}},
	{State{"SLP", "San Luis Potosí", "San Luis Potosí"}, nil},
	{State{"SIN", "Sinaloa", "Culiacán Rosales"}, []string{"Sin"}},
	{State{"SON", "Sonora", "Hermosillo"}, []string{"Son"}},
	{State{"TAB", "Tabasco", "Villahermosa"}, []string{"Tab"}},
	{State{"TAM", "Tamaulipas", "Ciudad Victoria"}, []string{"Tamps"}},
	{State{"TLA", "Tlaxcala", "Tlaxcala de Xicohténcatl"}, []string{"Tlax"}},
	{State{"VER", "Veracruz", "Xalapa-Enríquez"}, []string{"Veracruz de Ignacio de la Llave", "Ver"}},
	{State{"YUC", "Yucatán", "Mérida"}, []string{"Yuc"}},
	{State{"ZAC", "Zacatecas", "Zacatecas"}, []string{"Zac"}},
}

var stateIndex = buildStateIndex()

func buildStateIndex() map[string]State {
	idx := make(map[string]State, len(stateTable)*4)
	for _, e := range stateTable {
		idx[Normalize(e.Code)] = e.State
		idx[Normalize(e.Name)] = e.State
		for _, a := range e.aliases {
			idx[Normalize(a)] = e.State
		}
	}
	return idx
}

// LookupState matches a state name, alias or code, ignoring case and diacritics.
func LookupState(name string) (State, bool) {
	key := Normalize(name)
	if key == "" {
		return State{}, false
	}
	st, ok := stateIndex[key]
	return st, ok
}

// States returns the fixed state table in order.
func States() []State {
	out := make([]State, len(stateTable))
	for i, e := range stateTable {
		out[i] = e.State
	}
	return out
}
