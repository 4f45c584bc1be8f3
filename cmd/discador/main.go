package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"discador/internal/ami"
	"discador/internal/api"
	"discador/internal/auth"
	"discador/internal/callstate"
	"discador/internal/config"
	"discador/internal/crm"
	"discador/internal/database"
	"discador/internal/session"
	"discador/internal/websocket"
)

const defaultConfigPath = "/etc/discador/discador.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "start":
		cmdStart()
	case "user":
		cmdUser()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Comando desconocido: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Discador - Marcación progresiva para campañas de ejecutivos")
	fmt.Println()
	fmt.Println("Uso:")
	fmt.Println("  discador start                         Inicia el servicio completo")
	fmt.Println("  discador user add <usuario> <clave>    Crea un usuario del API")
	fmt.Println("  discador user list                     Lista los usuarios")
	fmt.Println("  discador status                        Muestra las sesiones activas")
	fmt.Println()
}

func loadConfig() *config.Config {
	configPath := os.Getenv("DISCADOR_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] Error cargando configuración: %v", err)
	}
	return cfg
}

func openRepo(cfg *config.Config) *database.Repository {
	dbConn, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("[Main] Error conectando a base de datos: %v", err)
	}
	return database.NewRepository(dbConn)
}

// cmdStart inicia todos los servicios
func cmdStart() {
	log.Println("[Main] Discador v1.0")
	log.Println("[Main] Iniciando servicios...")

	cfg := loadConfig()

	repo := openRepo(cfg)
	defer repo.Close()
	log.Println("[Main] ✓ Base de datos conectada")

	amiClient := ami.NewClient(&cfg.AMI)
	if err := amiClient.Connect(); err != nil {
		log.Fatalf("[Main] Error conectando AMI: %v", err)
	}
	defer amiClient.Close()
	log.Println("[Main] ✓ Cliente AMI conectado")

	crmClient := crm.NewClient(&cfg.CRM)
	if crmClient.Enabled() {
		log.Println("[Main] ✓ Cliente CRM configurado")
	} else {
		log.Println("[Main] CRM no configurado, las escrituras se omiten")
	}

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()
	log.Println("[Main] ✓ Hub de websocket iniciado")

	// La telefonía de cada sesión se arma con la troncal de su campaña
	telFactory := func(campaign *database.Campaign) callstate.Telephony {
		dialer := ami.NewDialer(
			amiClient,
			campaign.TroncalSalida,
			campaign.PrefijoSalida,
			cfg.Dialer.Contexto,
			time.Duration(cfg.Dialer.OriginateTimeout)*time.Second,
		)
		return session.NewAMIPhone(dialer)
	}

	notifierFor := func(ejecutivo string) session.Notifier {
		return hub.ForEjecutivo(ejecutivo)
	}

	registry := session.NewRegistry(repo, crmClient, notifierFor, telFactory)
	registry.AutoCallDefault = cfg.Dialer.AutoCallSegundos
	registry.Start(amiClient.Subscribe())
	defer registry.Stop()
	log.Println("[Main] ✓ Registro de sesiones iniciado")

	apiServer := api.NewServer(cfg, repo, registry, hub)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("[Main] Error iniciando API: %v", err)
		}
	}()
	log.Println("[Main] ✓ Servidor API REST iniciado")

	log.Println("[Main] ========================================")
	log.Printf("[Main] API REST escuchando en %s", cfg.API.Address())
	log.Println("[Main] Servicio iniciado correctamente")
	log.Println("[Main] Presiona Ctrl+C para detener")
	log.Println("[Main] ========================================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[Main] Deteniendo servicio...")
}

// cmdUser administra usuarios del API
func cmdUser() {
	if len(os.Args) < 3 {
		fmt.Println("Uso:")
		fmt.Println("  discador user add <usuario> <clave> [rol]")
		fmt.Println("  discador user list")
		os.Exit(1)
	}

	cfg := loadConfig()
	repo := openRepo(cfg)
	defer repo.Close()

	switch os.Args[2] {
	case "add":
		if len(os.Args) < 5 {
			fmt.Println("Uso: discador user add <usuario> <clave> [rol]")
			os.Exit(1)
		}
		username := os.Args[3]
		password := os.Args[4]
		role := "ejecutivo"
		if len(os.Args) > 5 {
			role = os.Args[5]
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			log.Fatalf("Error hasheando contraseña: %v", err)
		}
		if err := repo.CreateUser(username, hash, role); err != nil {
			log.Fatalf("Error creando usuario: %v", err)
		}
		fmt.Printf("Usuario '%s' creado con rol '%s'\n", username, role)

	case "list":
		users, err := repo.ListUsers()
		if err != nil {
			log.Fatalf("Error listando usuarios: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSUARIO\tROL")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.Username, u.Role)
		}
		w.Flush()

	default:
		fmt.Printf("Subcomando desconocido: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// cmdStatus muestra las sesiones activas registradas en base de datos
func cmdStatus() {
	cfg := loadConfig()
	repo := openRepo(cfg)
	defer repo.Close()

	sesiones, err := repo.ListActiveSessions()
	if err != nil {
		log.Fatalf("Error consultando sesiones: %v", err)
	}

	if len(sesiones) == 0 {
		fmt.Println("No hay sesiones activas")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SESIÓN\tCAMPAÑA\tEJECUTIVO\tINICIO\tLLAMADAS\tCOMPLETADOS")
	for _, s := range sesiones {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.CampaignKey, s.Ejecutivo,
			s.Inicio.Format("2006-01-02 15:04"), s.Llamadas, s.Completados)
	}
	w.Flush()
}
