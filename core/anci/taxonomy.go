package anci

// TaxonomyDef is one leaf of the ANCI incident taxonomy. AppliesTo limits the
// leaf to OIV or PSE entities; AMBAS leaves apply to everyone.
type TaxonomyDef struct {
	ID           string      `json:"id_incidente"`
	Area         string      `json:"area"`
	Efecto       string      `json:"efecto"`
	Categoria    string      `json:"categoria"`
	Subcategoria string      `json:"subcategoria"`
	AppliesTo    CompanyType `json:"aplica_tipo_empresa"`
}

// TaxonomyCatalog seeds the taxonomy table on first start.
var TaxonomyCatalog = []TaxonomyDef{
	{ID: "INC_CONT_SPAM_DIST", Area: "Contenido abusivo", Efecto: "Spam", Categoria: "Distribución masiva de correo no solicitado", Subcategoria: "Uso de infraestructura propia para envío de spam", AppliesTo: CompanyAmbas},
	{ID: "INC_CONT_DISC_PLAT", Area: "Contenido abusivo", Efecto: "Discurso dañino", Categoria: "Publicación de contenido ofensivo en plataformas propias", Subcategoria: "Compromiso de canales oficiales de comunicación", AppliesTo: CompanyAmbas},
	{ID: "INC_MALW_INFE_EQPO", Area: "Software malicioso", Efecto: "Infección", Categoria: "Malware en equipos de usuario", Subcategoria: "Estación de trabajo comprometida con troyano o RAT", AppliesTo: CompanyAmbas},
	{ID: "INC_MALW_RANS_CIFR", Area: "Software malicioso", Efecto: "Ransomware", Categoria: "Cifrado malicioso de información", Subcategoria: "Cifrado de servidores o estaciones con petición de rescate", AppliesTo: CompanyAmbas},
	{ID: "INC_MALW_RANS_OTEC", Area: "Software malicioso", Efecto: "Ransomware", Categoria: "Cifrado malicioso en entornos industriales", Subcategoria: "Afectación de sistemas OT o SCADA por ransomware", AppliesTo: CompanyOIV},
	{ID: "INC_MALW_BOTN_CYC", Area: "Software malicioso", Efecto: "Botnet", Categoria: "Equipos reclutados en red de bots", Subcategoria: "Comunicación con infraestructura de comando y control", AppliesTo: CompanyAmbas},
	{ID: "INC_INTR_EXPL_VULN", Area: "Intento de intrusión", Efecto: "Explotación de vulnerabilidad", Categoria: "Explotación de vulnerabilidades conocidas", Subcategoria: "Uso de exploit público contra servicios expuestos", AppliesTo: CompanyAmbas},
	{ID: "INC_INTR_FUER_BRUT", Area: "Intento de intrusión", Efecto: "Intento de acceso", Categoria: "Ataques de fuerza bruta sobre credenciales", Subcategoria: "Intentos masivos de inicio de sesión sobre cuentas corporativas", AppliesTo: CompanyAmbas},
	{ID: "INC_INTR_ACCE_NOAU", Area: "Intrusión", Efecto: "Acceso no autorizado", Categoria: "Compromiso de cuentas o sistemas", Subcategoria: "Acceso no autorizado con credenciales válidas robadas", AppliesTo: CompanyAmbas},
	{ID: "INC_INTR_COMP_PRIV", Area: "Intrusión", Efecto: "Compromiso de cuenta privilegiada", Categoria: "Escalamiento de privilegios", Subcategoria: "Compromiso de cuentas de administración de dominio", AppliesTo: CompanyAmbas},
	{ID: "INC_INTR_COMP_APPL", Area: "Intrusión", Efecto: "Compromiso de aplicación", Categoria: "Explotación de aplicaciones web", Subcategoria: "Inyección o ejecución remota en aplicaciones expuestas", AppliesTo: CompanyAmbas},
	{ID: "INC_DISP_DENE_SERV", Area: "Disponibilidad", Efecto: "Denegación de servicio", Categoria: "Ataque de denegación de servicio", Subcategoria: "Saturación volumétrica o de aplicación (DoS/DDoS)", AppliesTo: CompanyAmbas},
	{ID: "INC_DISP_INTE_OPER", Area: "Disponibilidad", Efecto: "Interrupción", Categoria: "Interrupción de operaciones por incidente interno", Subcategoria: "Caída de servicios críticos por falla atribuible al incidente", AppliesTo: CompanyOIV},
	{ID: "INC_DISP_SABO_INFR", Area: "Disponibilidad", Efecto: "Sabotaje", Categoria: "Sabotaje de infraestructura", Subcategoria: "Daño deliberado sobre infraestructura física o lógica", AppliesTo: CompanyOIV},
	{ID: "INC_INFO_ACCE_NOAU", Area: "Compromiso de la información", Efecto: "Acceso no autorizado a información", Categoria: "Acceso indebido a información confidencial", Subcategoria: "Lectura o copia de información sin autorización", AppliesTo: CompanyAmbas},
	{ID: "INC_INFO_MODI_NOAU", Area: "Compromiso de la información", Efecto: "Modificación no autorizada", Categoria: "Alteración indebida de información", Subcategoria: "Modificación o borrado de registros sin autorización", AppliesTo: CompanyAmbas},
	{ID: "INC_INFO_FUGA_DATO", Area: "Compromiso de la información", Efecto: "Fuga de información", Categoria: "Exfiltración de datos", Subcategoria: "Publicación o venta de datos internos o personales", AppliesTo: CompanyAmbas},
	{ID: "INC_FRAU_USO_NOAU", Area: "Fraude", Efecto: "Uso no autorizado de recursos", Categoria: "Uso de recursos para fines no autorizados", Subcategoria: "Uso de infraestructura corporativa con fines de lucro ajeno", AppliesTo: CompanyPSE},
	{ID: "INC_FRAU_SUPL_IDEN", Area: "Fraude", Efecto: "Suplantación", Categoria: "Suplantación de identidad corporativa", Subcategoria: "Sitios o dominios que suplantan a la organización", AppliesTo: CompanyAmbas},
	{ID: "INC_USO_PHIP_ECDP", Area: "Impacto en el uso legítimo de recursos", Efecto: "Phishing", Categoria: "Engaño a usuarios para captura de datos", Subcategoria: "Campañas de phishing o spear phishing contra usuarios", AppliesTo: CompanyAmbas},
	{ID: "INC_USO_INGE_SOCI", Area: "Impacto en el uso legítimo de recursos", Efecto: "Ingeniería social", Categoria: "Manipulación de personas para obtener acceso", Subcategoria: "Pretexting, vishing u otras técnicas de ingeniería social", AppliesTo: CompanyAmbas},
	{ID: "INC_VULN_CONF_EXPU", Area: "Vulnerabilidades", Efecto: "Configuración expuesta", Categoria: "Servicios o datos expuestos por mala configuración", Subcategoria: "Repositorios, buckets o paneles expuestos a internet", AppliesTo: CompanyPSE},
	{ID: "INC_OTRO_SIN_CLAS", Area: "Otros", Efecto: "Sin clasificar", Categoria: "Incidente sin clasificación aplicable", Subcategoria: "Eventos que no calzan con las categorías anteriores", AppliesTo: CompanyAmbas},
}
