package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	apiHost  string
	apiToken string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "discador-cli",
		Short: "CLI para administrar el discador",
		Long:  `Una herramienta de línea de comandos para supervisar y administrar el discador de forma remota.`,
	}

	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:8080", "URL base de la API")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Token JWT (obtenido con login)")

	// === LOGIN ===
	var loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Autenticarse y obtener un token",
		Run:   runLogin,
	}
	loginCmd.Flags().String("user", "", "Usuario")
	loginCmd.Flags().String("pass", "", "Contraseña")

	// === SESIONES ===
	var sessionCmd = &cobra.Command{
		Use:   "sesiones",
		Short: "Supervisar sesiones de campaña",
	}

	var sessionListCmd = &cobra.Command{
		Use:   "list",
		Short: "Listar sesiones activas",
		Run:   runSessionList,
	}

	sessionCmd.AddCommand(sessionListCmd)

	// === CAMPAÑAS ===
	var campaignCmd = &cobra.Command{
		Use:   "campana",
		Short: "Consultar campañas",
	}

	var campaignStatsCmd = &cobra.Command{
		Use:   "stats <clave>",
		Short: "Mostrar agregados de la cola de una campaña",
		Args:  cobra.ExactArgs(1),
		Run:   runCampaignStats,
	}

	campaignCmd.AddCommand(campaignStatsCmd)

	// === TIPIFICACIONES ===
	var tipCmd = &cobra.Command{
		Use:   "tipificaciones",
		Short: "Listar el catálogo de tipificaciones",
		Run:   runTipificaciones,
	}

	// === USUARIOS ===
	var userCmd = &cobra.Command{
		Use:   "user",
		Short: "Gestionar usuarios del API",
	}

	var userListCmd = &cobra.Command{
		Use:   "list",
		Short: "Listar usuarios",
		Run:   runUserList,
	}

	var userAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Crear usuario",
		Run:   runUserAdd,
	}
	userAddCmd.Flags().String("user", "", "Nombre de usuario (requerido)")
	userAddCmd.Flags().String("pass", "", "Contraseña (requerida)")
	userAddCmd.Flags().String("role", "ejecutivo", "Rol (ejecutivo o admin)")

	userCmd.AddCommand(userListCmd, userAddCmd)

	// === ROOT ===
	rootCmd.AddCommand(loginCmd, sessionCmd, campaignCmd, tipCmd, userCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// --- HANDLERS ---

func runLogin(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	pass, _ := cmd.Flags().GetString("pass")

	if user == "" || pass == "" {
		fmt.Println("Error: --user y --pass son requeridos")
		return
	}

	body := map[string]string{"username": user, "password": pass}
	payload, _ := json.Marshal(body)

	resp, err := http.Post(fmt.Sprintf("%s/api/v1/login", apiHost), "application/json", bytes.NewBuffer(payload))
	if err != nil {
		fmt.Printf("Error de conexión: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Printf("Error (%s): %s\n", resp.Status, string(msg))
		return
	}

	var result struct {
		Token string `json:"token"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	fmt.Println(result.Token)
}

func runSessionList(cmd *cobra.Command, args []string) {
	var sesiones []map[string]interface{}
	if !getJSON(fmt.Sprintf("%s/api/v1/sesion/activas", apiHost), &sesiones) {
		return
	}

	if len(sesiones) == 0 {
		fmt.Println("No hay sesiones activas")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESIÓN\tCAMPAÑA\tEJECUTIVO\tLLAMADAS\tCOMPLETADOS")
	fmt.Fprintln(w, "------\t-------\t---------\t--------\t-----------")
	for _, s := range sesiones {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.0f\n",
			s["id"], s["campaign_key"], s["ejecutivo"], s["llamadas"], s["completados"])
	}
	w.Flush()
}

func runCampaignStats(cmd *cobra.Command, args []string) {
	var result struct {
		Clave  string `json:"clave"`
		Nombre string `json:"nombre"`
		Activa bool   `json:"activa"`
		Stats  struct {
			Total       int `json:"total"`
			Pendientes  int `json:"pendientes"`
			Diferidos   int `json:"diferidos"`
			Completados int `json:"completados"`
			Omitidos    int `json:"omitidos"`
		} `json:"stats"`
	}
	if !getJSON(fmt.Sprintf("%s/api/v1/campanas/stats?clave=%s", apiHost, args[0]), &result) {
		return
	}

	estado := "inactiva"
	if result.Activa {
		estado = "activa"
	}
	fmt.Printf("Campaña: %s (%s) [%s]\n\n", result.Nombre, result.Clave, estado)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TOTAL\tPENDIENTES\tDIFERIDOS\tCOMPLETADOS\tOMITIDOS")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n",
		result.Stats.Total, result.Stats.Pendientes, result.Stats.Diferidos,
		result.Stats.Completados, result.Stats.Omitidos)
	w.Flush()
}

func runTipificaciones(cmd *cobra.Command, args []string) {
	var tips []map[string]interface{}
	if !getJSON(fmt.Sprintf("%s/api/v1/tipificaciones", apiHost), &tips) {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CLAVE\tNOMBRE\tCATEGORÍA\tCLASE")
	fmt.Fprintln(w, "-----\t------\t---------\t-----")
	for _, t := range tips {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t["clave"], t["nombre"], t["categoria"], t["clase"])
	}
	w.Flush()
}

func runUserList(cmd *cobra.Command, args []string) {
	var users []map[string]interface{}
	if !getJSON(fmt.Sprintf("%s/api/v1/users", apiHost), &users) {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tUSUARIO\tROL")
	fmt.Fprintln(w, "--\t-------\t---")
	for _, u := range users {
		fmt.Fprintf(w, "%.0f\t%s\t%s\n", u["id"], u["username"], u["role"])
	}
	w.Flush()
}

func runUserAdd(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	pass, _ := cmd.Flags().GetString("pass")
	role, _ := cmd.Flags().GetString("role")

	if user == "" || pass == "" {
		fmt.Println("Error: --user y --pass son requeridos")
		return
	}

	body := map[string]interface{}{
		"username": user,
		"password": pass,
		"role":     role,
	}
	sendPost(fmt.Sprintf("%s/api/v1/users", apiHost), body)
}

// Helpers

func getJSON(url string, out interface{}) bool {
	req, _ := http.NewRequest("GET", url, nil)
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error conectando a API: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Printf("Error API (%s): %s\n", resp.Status, string(msg))
		return false
	}

	json.NewDecoder(resp.Body).Decode(out)
	return true
}

func sendPost(url string, data interface{}) {
	payload, _ := json.Marshal(data)
	req, _ := http.NewRequest("POST", url, bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error de conexión: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		fmt.Println("Éxito!")
		fmt.Println(string(body))
	} else {
		fmt.Printf("Error (%s): %s\n", resp.Status, string(body))
	}
}
